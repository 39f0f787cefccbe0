package storage_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"docvault/internal/storage"
	"docvault/internal/storage/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func transientErr(op string) error {
	return &storage.Error{Op: op, Key: "k", Kind: storage.KindTransient, Code: "SlowDown", Err: errors.New("slow down")}
}

func fastPolicy(attempts int) storage.RetryPolicy {
	return storage.RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestWithRetry_RetriesTransientPut(t *testing.T) {
	ms := new(mocks.MockStorage)
	var bodies []string
	ms.On("Put", mock.Anything, "k", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			b, _ := io.ReadAll(args.Get(2).(io.Reader))
			bodies = append(bodies, string(b))
		}).
		Return(storage.ObjectInfo{}, transientErr(storage.OpPut)).Twice()
	ms.On("Put", mock.Anything, "k", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			b, _ := io.ReadAll(args.Get(2).(io.Reader))
			bodies = append(bodies, string(b))
		}).
		Return(storage.ObjectInfo{Key: "k", Size: 7}, nil).Once()

	var retried []string
	s := storage.WithRetry(ms, fastPolicy(3), storage.WithRetryHook(func(op string) { retried = append(retried, op) }))

	info, err := s.Put(context.Background(), "k", bytes.NewReader([]byte("payload")), storage.PutObjectOptions{Size: 7})
	require.NoError(t, err)
	assert.Equal(t, "k", info.Key)
	assert.Equal(t, []string{"payload", "payload", "payload"}, bodies)
	assert.Equal(t, []string{storage.OpPut, storage.OpPut}, retried)
	ms.AssertNumberOfCalls(t, "Put", 3)
}

func TestWithRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	ms := new(mocks.MockStorage)
	ms.On("Delete", mock.Anything, "k").Return(transientErr(storage.OpDelete))

	s := storage.WithRetry(ms, fastPolicy(3))
	err := s.Delete(context.Background(), "k")

	require.Error(t, err)
	assert.True(t, storage.IsTransient(err))
	ms.AssertNumberOfCalls(t, "Delete", 3)
}

func TestWithRetry_DoesNotRetryPermanentErrors(t *testing.T) {
	ms := new(mocks.MockStorage)
	notFound := &storage.Error{Op: storage.OpGet, Key: "k", Kind: storage.KindNotFound, Code: "NoSuchKey", Err: storage.ErrNotFound}
	ms.On("Get", mock.Anything, "k").Return(nil, storage.ObjectInfo{}, notFound)

	s := storage.WithRetry(ms, fastPolicy(5))
	_, _, err := s.Get(context.Background(), "k")

	assert.ErrorIs(t, err, storage.ErrNotFound)
	ms.AssertNumberOfCalls(t, "Get", 1)
}

func TestWithRetry_StopsOnCancelledContext(t *testing.T) {
	ms := new(mocks.MockStorage)
	ms.On("Exists", mock.Anything, "k").Return(false, transientErr(storage.OpExists))

	ctx, cancel := context.WithCancel(context.Background())
	s := storage.WithRetry(ms, storage.RetryPolicy{MaxAttempts: 10, BaseDelay: time.Hour, MaxDelay: time.Hour},
		storage.WithRetryHook(func(string) { cancel() }))

	_, err := s.Exists(ctx, "k")
	require.Error(t, err)
	ms.AssertNumberOfCalls(t, "Exists", 1)
}

func TestWithRetry_BuffersNonSeekableBody(t *testing.T) {
	ms := new(mocks.MockStorage)
	var last string
	ms.On("Put", mock.Anything, "k", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			b, _ := io.ReadAll(args.Get(2).(io.Reader))
			last = string(b)
		}).
		Return(storage.ObjectInfo{}, transientErr(storage.OpPut)).Once()
	ms.On("Put", mock.Anything, "k", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			b, _ := io.ReadAll(args.Get(2).(io.Reader))
			last = string(b)
		}).
		Return(storage.ObjectInfo{Key: "k"}, nil).Once()

	s := storage.WithRetry(ms, fastPolicy(2))
	_, err := s.Put(context.Background(), "k", io.MultiReader(bytes.NewReader([]byte("abc"))), storage.PutObjectOptions{Size: 3})
	require.NoError(t, err)
	assert.Equal(t, "abc", last)
}
