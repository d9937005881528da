package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAcquirer mirrors Pool's checkout bookkeeping without dialing a real
// database, so the live<=max invariant (SPEC_FULL.md section 8, invariant 5)
// can be exercised without a MySQL server.
type fakeAcquirer struct {
	free chan struct{}
	live atomic.Int64
	max  int64
}

func newFakeAcquirer(max int) *fakeAcquirer {
	f := &fakeAcquirer{free: make(chan struct{}, max), max: int64(max)}
	for i := 0; i < max; i++ {
		f.free <- struct{}{}
	}
	return f
}

func (f *fakeAcquirer) acquire(ctx context.Context, fn func() error) error {
	select {
	case <-f.free:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { f.free <- struct{}{} }()
	f.live.Add(1)
	defer f.live.Add(-1)
	return fn()
}

func TestLiveNeverExceedsMax(t *testing.T) {
	const max = 4
	f := newFakeAcquirer(max)

	var wg sync.WaitGroup
	var maxObserved atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.acquire(ctx, func() error {
				cur := f.live.Load()
				for {
					prev := maxObserved.Load()
					if cur <= prev || maxObserved.CompareAndSwap(prev, cur) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxObserved.Load(), int64(max))
	assert.Equal(t, int64(0), f.live.Load())
}

func TestAcquireBlocksUntilContextDone(t *testing.T) {
	f := newFakeAcquirer(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = f.acquire(context.Background(), func() error {
			time.Sleep(100 * time.Millisecond)
			return nil
		})
	}()
	time.Sleep(5 * time.Millisecond)

	err := f.acquire(ctx, func() error { return nil })
	require.Error(t, err)
	wg.Wait()
}
