package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_DoBoundsConcurrency(t *testing.T) {
	p := NewPool(2, nil)

	var (
		running atomic.Int32
		peak    atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Do(context.Background(), func(context.Context) error {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPool_DoReturnsJobError(t *testing.T) {
	p := NewPool(1, nil)
	want := errors.New("boom")
	assert.ErrorIs(t, p.Do(context.Background(), func(context.Context) error { return want }), want)
}

func TestPool_DoHonoursContext(t *testing.T) {
	p := NewPool(1, nil)
	release := make(chan struct{})
	require.NoError(t, p.Go(context.Background(), "blocker", func(context.Context) error {
		<-release
		return nil
	}))
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := p.Do(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, p.Close(context.Background()))
}

func TestPool_GoLogsFailuresAndCloseWaits(t *testing.T) {
	logger, hook := test.NewNullLogger()
	p := NewPool(4, logger)

	var done atomic.Int32
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Go(context.Background(), "ok", func(context.Context) error {
			time.Sleep(5 * time.Millisecond)
			done.Add(1)
			return nil
		}))
	}
	require.NoError(t, p.Go(context.Background(), "bad", func(context.Context) error {
		return errors.New("nope")
	}))
	require.NoError(t, p.Go(context.Background(), "panics", func(context.Context) error {
		panic("kaboom")
	}))

	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, int32(3), done.Load())

	var levels []logrus.Level
	for _, e := range hook.AllEntries() {
		levels = append(levels, e.Level)
	}
	assert.Contains(t, levels, logrus.WarnLevel)
	assert.Contains(t, levels, logrus.ErrorLevel)

	assert.ErrorIs(t, p.Go(context.Background(), "late", func(context.Context) error { return nil }), ErrClosed)
	assert.ErrorIs(t, p.Do(context.Background(), func(context.Context) error { return nil }), ErrClosed)
}
