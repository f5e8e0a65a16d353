package async

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	SetLogger(quiet)
}

func TestWorkerPool_Basic(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 2, "test pool", time.Second)

	executed := atomic.Int32{}
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(func(ctx context.Context) error {
			executed.Add(1)
			return nil
		}))
	}

	require.NoError(t, pool.Shutdown(time.Second))
	assert.Equal(t, int32(10), executed.Load())
}

func TestWorkerPool_WithErrors(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 2, "test pool", time.Second)

	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(func(ctx context.Context) error {
			return errors.New("test error")
		}))
	}
	require.NoError(t, pool.Shutdown(time.Second))

	errorCount := 0
	for {
		select {
		case <-pool.Errors():
			errorCount++
			continue
		default:
		}
		break
	}
	assert.Equal(t, 5, errorCount)
}

func TestWorkerPool_PanicBecomesError(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, "test pool", time.Second)

	require.NoError(t, pool.Submit(func(ctx context.Context) error {
		panic("boom")
	}))
	require.NoError(t, pool.Shutdown(time.Second))

	select {
	case err := <-pool.Errors():
		assert.Contains(t, err.Error(), "panic: boom")
	default:
		t.Fatal("expected panic to be reported")
	}
}

func TestWorkerPool_Shutdown(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 2, "test pool", time.Second)

	executed := atomic.Int32{}
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(func(ctx context.Context) error {
			time.Sleep(20 * time.Millisecond)
			executed.Add(1)
			return nil
		}))
	}

	require.NoError(t, pool.Shutdown(time.Second))
	assert.Equal(t, int32(5), executed.Load())

	err := pool.Submit(func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolShutdown)

	// a second shutdown is a no-op
	assert.NoError(t, pool.Shutdown(time.Second))
}

func TestWorkerPool_Timeout(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, "test pool", 50*time.Millisecond)

	timedOut := atomic.Bool{}
	require.NoError(t, pool.Submit(func(ctx context.Context) error {
		select {
		case <-time.After(2 * time.Second):
			return nil
		case <-ctx.Done():
			timedOut.Store(true)
			return ctx.Err()
		}
	}))

	require.NoError(t, pool.Shutdown(time.Second))
	assert.True(t, timedOut.Load())
}

func TestWorkerPool_ShutdownTimeout(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, "test pool", 5*time.Second)
	release := make(chan struct{})
	defer close(release)

	require.NoError(t, pool.Submit(func(ctx context.Context) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}))
	time.Sleep(20 * time.Millisecond)

	err := pool.Shutdown(20 * time.Millisecond)
	assert.Error(t, err)
}
