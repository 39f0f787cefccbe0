package token

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInMemoryBadger(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := OpenBadgerStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBadgerStore_TakeOnce(t *testing.T) {
	ctx := context.Background()
	s := newInMemoryBadger(t)

	require.NoError(t, s.Put(ctx, "dl:doc:tok", []byte(`{"document_id":"doc"}`), time.Minute))

	v, err := s.Take(ctx, "dl:doc:tok")
	require.NoError(t, err)
	assert.JSONEq(t, `{"document_id":"doc"}`, string(v))

	_, err = s.Take(ctx, "dl:doc:tok")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s := newInMemoryBadger(t)

	// badger TTLs have second granularity
	require.NoError(t, s.Put(ctx, "k", []byte("v"), time.Second))
	time.Sleep(2100 * time.Millisecond)

	_, err := s.Take(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerStore_ConcurrentTake(t *testing.T) {
	ctx := context.Background()
	s := newInMemoryBadger(t)
	require.NoError(t, s.Put(ctx, "k", []byte("v"), time.Minute))

	var (
		wg  sync.WaitGroup
		won atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Take(ctx, "k"); err == nil {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), won.Load())
}

func TestBroker_WithBadgerStore(t *testing.T) {
	ctx := context.Background()
	b := NewBroker(newInMemoryBadger(t), DefaultTTL)

	tok, err := b.Issue(ctx, "doc", "owner")
	require.NoError(t, err)

	_, err = b.Validate(ctx, "doc-other", tok.Value)
	assert.ErrorIs(t, err, ErrInvalidToken)

	g, err := b.Validate(ctx, "doc", tok.Value)
	require.NoError(t, err)
	assert.Equal(t, "owner", g.OwnerID)

	_, err = b.Validate(ctx, "doc", tok.Value)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
