package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/spadhi7/datahub/pkg/errors"
)

// WithTimeout runs fn with a context cancelled after timeout. A call that
// does not finish in time returns an error matching both ErrTimeout and
// context.DeadlineExceeded. A non-positive timeout runs fn with ctx as is.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- fn(timeoutCtx)
	}()
	select {
	case err := <-done:
		return err
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return fmt.Errorf("%s: parent context cancelled: %w", name, ctx.Err())
		}
		return fmt.Errorf("%s: %w: %w (limit: %v)", name, apperrors.ErrTimeout, context.DeadlineExceeded, timeout)
	}
}
