package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

// RetryPolicy bounds retries of transient failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is 3 attempts with a 200ms base delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// RetryOption customizes WithRetry.
type RetryOption func(*retryingStorage)

// WithRetryLogger logs every retried attempt.
func WithRetryLogger(log logrus.FieldLogger) RetryOption {
	return func(r *retryingStorage) { r.log = log }
}

// WithRetryHook is called with the operation name before every retry.
func WithRetryHook(hook func(op string)) RetryOption {
	return func(r *retryingStorage) { r.onRetry = hook }
}

type retryingStorage struct {
	next    Storage
	policy  RetryPolicy
	log     logrus.FieldLogger
	onRetry func(op string)
}

// WithRetry wraps next so that transient failures are retried with exponential backoff.
// Non-transient failures are returned immediately.
func WithRetry(next Storage, policy RetryPolicy, opts ...RetryOption) Storage {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultRetryPolicy().BaseDelay
	}
	if policy.MaxDelay < policy.BaseDelay {
		policy.MaxDelay = policy.BaseDelay
	}
	r := &retryingStorage{next: next, policy: policy}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		r.log = l
	}
	return r
}

func (r *retryingStorage) Put(ctx context.Context, key string, body io.Reader, opt PutObjectOptions) (ObjectInfo, error) {
	// A consumed body cannot be replayed, so every attempt seeks back to where the caller left it.
	rs, ok := body.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(body)
		if err != nil {
			return ObjectInfo{}, newError(OpPut, key, KindUnknown, "", fmt.Errorf("buffer body: %w", err))
		}
		rs = bytes.NewReader(data)
	}
	start, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return ObjectInfo{}, newError(OpPut, key, KindUnknown, "", fmt.Errorf("seek body: %w", err))
	}

	return do(ctx, r, OpPut, key, func() (ObjectInfo, error) {
		if _, err := rs.Seek(start, io.SeekStart); err != nil {
			return ObjectInfo{}, newError(OpPut, key, KindUnknown, "", fmt.Errorf("rewind body: %w", err))
		}
		return r.next.Put(ctx, key, rs, opt)
	})
}

type getResult struct {
	body io.ReadCloser
	info ObjectInfo
}

func (r *retryingStorage) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	res, err := do(ctx, r, OpGet, key, func() (getResult, error) {
		body, info, err := r.next.Get(ctx, key)
		return getResult{body: body, info: info}, err
	})
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	return res.body, res.info, nil
}

func (r *retryingStorage) Delete(ctx context.Context, key string) error {
	_, err := do(ctx, r, OpDelete, key, func() (struct{}, error) {
		return struct{}{}, r.next.Delete(ctx, key)
	})
	return err
}

func (r *retryingStorage) Exists(ctx context.Context, key string) (bool, error) {
	return do(ctx, r, OpExists, key, func() (bool, error) {
		return r.next.Exists(ctx, key)
	})
}

func (r *retryingStorage) List(ctx context.Context, prefix string, maxKeys int) ([]ObjectInfo, error) {
	return do(ctx, r, OpList, prefix, func() ([]ObjectInfo, error) {
		return r.next.List(ctx, prefix, maxKeys)
	})
}

func (r *retryingStorage) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return do(ctx, r, OpPresign, key, func() (string, error) {
		return r.next.PresignGet(ctx, key, expiry)
	})
}

func do[T any](ctx context.Context, r *retryingStorage, op, key string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.BaseDelay
	b.MaxInterval = r.policy.MaxDelay
	b.Multiplier = 2

	attempt := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := fn()
		if err != nil && !IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.log.WithFields(logrus.Fields{
				"component":  "storage",
				"op":         op,
				"key":        key,
				"attempt":    attempt,
				"next_delay": next.String(),
				"code":       CodeOf(err),
			}).WithError(err).Warn("transient storage failure, retrying")
			if r.onRetry != nil {
				r.onRetry(op)
			}
		}),
	)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		if !errors.As(err, new(*Error)) {
			// context cancellation while waiting between attempts
			err = newError(op, key, KindUnknown, "", err)
		}
		return res, err
	}
	return res, nil
}
