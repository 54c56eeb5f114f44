package async

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/realleaders/portal/pkg/observability"
)

// Runner executes background tasks detached from the caller's cancellation.
// Tasks outlive the request that started them but not the process: Wait drains them.
type Runner struct {
	logger *observability.Logger
	wg     sync.WaitGroup
}

// NewRunner creates a new background task runner
func NewRunner(logger *observability.Logger) *Runner {
	return &Runner{logger: logger}
}

// Go executes fn in a goroutine with:
// - values (but not cancellation) inherited from parentCtx
// - panic recovery
// - timeout enforcement
// - error logging
func (r *Runner) Go(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
		defer cancel()

		defer observability.RecoverPanic(r.logger, taskName)

		if err := fn(ctx); err != nil {
			r.logger.WithError(err).WithField("task", taskName).Warn("background task failed")
		}
	}()
}

// Wait blocks until every started task returns or ctx is done
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("background tasks still running: %w", ctx.Err())
	}
}
