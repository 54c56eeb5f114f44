package observability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShutdownManager_RunsAll(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), time.Second)

	var calls atomic.Int32
	sm.Register("a", func(context.Context) error { calls.Add(1); return nil })
	sm.Register("b", func(context.Context) error { calls.Add(1); return nil })

	assert.NoError(t, sm.Shutdown(context.Background()))
	assert.Equal(t, int32(2), calls.Load())
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), time.Second)
	sm.Register("redis", func(context.Context) error { return errors.New("closed") })
	sm.Register("http", func(context.Context) error { return nil })

	err := sm.Shutdown(context.Background())
	assert.ErrorContains(t, err, "redis: closed")
}

func TestShutdownManager_Timeout(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), 20*time.Millisecond)
	sm.Register("slow", func(ctx context.Context) error {
		<-time.After(time.Second)
		return nil
	})

	err := sm.Shutdown(context.Background())
	assert.ErrorContains(t, err, "timeout")
}

func TestShutdownManager_IgnoresCancelledParent(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), time.Second)
	sm.Register("check", func(ctx context.Context) error { return ctx.Err() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, sm.Shutdown(ctx))
}
