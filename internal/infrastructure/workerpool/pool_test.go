package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunReturnsTaskResult(t *testing.T) {
	pool, err := New(2, nil)
	require.NoError(t, err)
	defer pool.Close(context.Background())

	var wrote int
	err = pool.Run(context.Background(), func(context.Context) error {
		wrote = 42
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, wrote)

	boom := errors.New("boom")
	assert.ErrorIs(t, pool.Run(context.Background(), func(context.Context) error { return boom }), boom)
}

func TestRunBoundsConcurrency(t *testing.T) {
	pool, err := New(2, nil)
	require.NoError(t, err)
	defer pool.Close(context.Background())

	var current, peak atomic.Int32
	errs := make(chan error, 6)
	for i := 0; i < 6; i++ {
		go func() {
			errs <- pool.Run(context.Background(), func(context.Context) error {
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				current.Add(-1)
				return nil
			})
		}()
	}
	for i := 0; i < 6; i++ {
		require.NoError(t, <-errs)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunHonoursContextWhileWaiting(t *testing.T) {
	pool, err := New(1, nil)
	require.NoError(t, err)
	defer pool.Close(context.Background())

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = pool.Run(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = pool.Run(ctx, func(context.Context) error {
		t.Error("task must not run after the context expired")
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestRunRecoversPanics(t *testing.T) {
	pool, err := New(1, nil)
	require.NoError(t, err)
	defer pool.Close(context.Background())

	err = pool.Run(context.Background(), func(context.Context) error { panic("bad model output") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad model output")
}

func TestRunAfterClose(t *testing.T) {
	pool, err := New(1, nil)
	require.NoError(t, err)
	require.NoError(t, pool.Close(context.Background()))

	assert.ErrorIs(t, pool.Run(context.Background(), func(context.Context) error { return nil }), ErrPoolClosed)
}
