package storage

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorage(t *testing.T) {
	ctx := context.Background()
	s := NewMemory("vault")

	info, err := s.Put(ctx, "owner/2024/05/doc.pdf", strings.NewReader("ciphertext"), PutObjectOptions{
		Size:        10,
		ContentType: "application/octet-stream",
		Metadata:    map[string]string{"document-id": "doc"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), info.Size)
	assert.NotEmpty(t, info.ETag)

	_, _ = s.Put(ctx, "owner/2024/06/other.png", strings.NewReader("x"), PutObjectOptions{Size: 1})
	_, _ = s.Put(ctx, "someone-else/2024/05/z.pdf", strings.NewReader("y"), PutObjectOptions{Size: 1})

	t.Run("get", func(t *testing.T) {
		rc, got, err := s.Get(ctx, "owner/2024/05/doc.pdf")
		require.NoError(t, err)
		defer rc.Close()
		body, _ := io.ReadAll(rc)
		assert.Equal(t, "ciphertext", string(body))
		assert.Equal(t, "doc", got.Metadata["document-id"])
	})

	t.Run("get missing", func(t *testing.T) {
		_, _, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("exists", func(t *testing.T) {
		ok, err := s.Exists(ctx, "owner/2024/05/doc.pdf")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.Exists(ctx, "nope")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("list", func(t *testing.T) {
		objs, err := s.List(ctx, "owner/", 0)
		require.NoError(t, err)
		require.Len(t, objs, 2)
		assert.Equal(t, "owner/2024/05/doc.pdf", objs[0].Key)

		objs, err = s.List(ctx, "owner/", 1)
		require.NoError(t, err)
		assert.Len(t, objs, 1)
	})

	t.Run("presign", func(t *testing.T) {
		u, err := s.PresignGet(ctx, "owner/2024/05/doc.pdf", time.Minute)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(u, "memory://vault/owner/2024/05/doc.pdf?expires="))

		_, err = s.PresignGet(ctx, "nope", time.Minute)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "owner/2024/05/doc.pdf"))
		_, ok := s.Raw("owner/2024/05/doc.pdf")
		assert.False(t, ok)
		assert.Equal(t, 2, s.Len())
		assert.NoError(t, s.Delete(ctx, "owner/2024/05/doc.pdf"))
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := s.Put(cctx, "k", strings.NewReader("v"), PutObjectOptions{Size: 1})
		assert.Error(t, err)
		assert.False(t, IsTransient(err))
	})
}
