package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/joecupano/airgap-lab-ai/pkg/errors"
)

// Call runs fn under a deadline and returns its value. A call that overruns
// returns the zero T and an error matching both ErrTimeout and
// context.DeadlineExceeded. fn keeps running until it notices ctx is done,
// but its late result is discarded.
func Call[T any](ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(callCtx)
		done <- outcome{v, err}
	}()

	var zero T
	select {
	case o := <-done:
		return o.v, o.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s: parent context cancelled: %w", name, ctx.Err())
		}
		return zero, fmt.Errorf("%s: %w: %w (limit: %v)", name, apperrors.ErrTimeout, context.DeadlineExceeded, timeout)
	}
}

// WithTimeout is Call for functions with no result.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, timeout, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
