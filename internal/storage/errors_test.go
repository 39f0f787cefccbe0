package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		code   string
		status int
		err    error
		want   Kind
	}{
		{"no such key", "NoSuchKey", 0, nil, KindNotFound},
		{"head 404", "", http.StatusNotFound, nil, KindNotFound},
		{"access denied", "AccessDenied", 0, nil, KindAccessDenied},
		{"bad signature", "SignatureDoesNotMatch", http.StatusForbidden, nil, KindAccessDenied},
		{"slow down", "SlowDown", http.StatusServiceUnavailable, nil, KindTransient},
		{"bare 500", "", http.StatusInternalServerError, nil, KindTransient},
		{"throttled", "", http.StatusTooManyRequests, nil, KindTransient},
		{"connection reset", "", 0, fmt.Errorf("read: %w", syscall.ECONNRESET), KindTransient},
		{"dial failure", "", 0, &net.OpError{Op: "dial", Err: errors.New("refused")}, KindTransient},
		{"unexpected eof", "", 0, io.ErrUnexpectedEOF, KindTransient},
		{"caller deadline", "", 0, context.DeadlineExceeded, KindUnknown},
		{"caller cancel", "", 0, context.Canceled, KindUnknown},
		{"bad request", "InvalidArgument", http.StatusBadRequest, nil, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.code, tt.status, tt.err))
		})
	}
}

func TestClassifyMinIO(t *testing.T) {
	err := classifyMinIO(OpGet, "a/b", minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound, Message: "gone"})
	assert.Equal(t, KindNotFound, err.Kind)
	assert.Equal(t, "NoSuchKey", err.Code)
	assert.ErrorIs(t, err, ErrNotFound)

	err = classifyMinIO(OpPut, "a/b", minio.ErrorResponse{Code: "InternalError", StatusCode: http.StatusInternalServerError})
	assert.True(t, IsTransient(err))

	err = classifyMinIO(OpPut, "a/b", minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden})
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestError_Format(t *testing.T) {
	err := newError(OpPut, "owner/2024/01/id.pdf", KindTransient, "SlowDown", errors.New("please reduce your request rate"))

	assert.Contains(t, err.Error(), "storage put")
	assert.Contains(t, err.Error(), "transient")
	assert.Contains(t, err.Error(), "SlowDown")
	assert.Equal(t, "SlowDown", CodeOf(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, KindTransient, KindOf(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}
