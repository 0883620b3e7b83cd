package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWithLockMutualExclusion(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	var inside int32
	var maxInside int32
	var counter int

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := reg.WithLock(ctx, "acct-1", func() error {
				n := atomic.AddInt32(&inside, 1)
				if n > atomic.LoadInt32(&maxInside) {
					atomic.StoreInt32(&maxInside, n)
				}
				counter++
				atomic.AddInt32(&inside, -1)
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), maxInside)
	require.Equal(t, 50, counter)
}

func TestWithLockDistinctKeysRunInParallel(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = reg.WithLock(ctx, "acct-a", func() error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	done := make(chan error, 1)
	go func() {
		done <- reg.WithLock(ctx, "acct-b", func() error { return nil })
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("lock on a different key blocked")
	}
	close(release)
}

func TestWithLockPropagatesErrorAndReleases(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	sentinel := errors.New("boom")
	err := reg.WithLock(ctx, "acct-1", func() error { return sentinel })
	require.ErrorIs(t, err, sentinel)

	// A failed fn must not leak the lock.
	require.NoError(t, reg.WithLock(ctx, "acct-1", func() error { return nil }))
}

func TestWithLockReleasesOnPanic(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	require.Panics(t, func() {
		_ = reg.WithLock(ctx, "acct-1", func() error { panic("boom") })
	})
	require.NoError(t, reg.WithLock(ctx, "acct-1", func() error { return nil }))
}

func TestWithLockHonorsContextCancellation(t *testing.T) {
	reg := NewRegistry()

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = reg.WithLock(context.Background(), "acct-1", func() error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := reg.WithLock(ctx, "acct-1", func() error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)

	// Registry must not leak entries once all holders are gone.
	require.Eventually(t, func() bool {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		return len(reg.locks) == 0
	}, time.Second, 10*time.Millisecond)
}
