package main

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(bytes.NewReader(bytes.Repeat([]byte{7}, 64)))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestGenerate(t *testing.T) {
	out, err := execute(t, "generate")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Len(t, raw, 32)
}

func TestGenerate_RejectsShortKeys(t *testing.T) {
	_, err := execute(t, "generate", "--bytes", "16")
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 32))

	out, err := execute(t, "verify", "--key", key)
	require.NoError(t, err)
	assert.Equal(t, "ok", strings.TrimSpace(out))

	t.Setenv("MASTER_KEY", "")
	_, err = execute(t, "verify")
	assert.Error(t, err)

	_, err = execute(t, "verify", "--key", "not base64!")
	assert.Error(t, err)
}
