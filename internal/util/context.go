package util

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// WrapCtxErrWithCause returns the context’s error joined with its
// cancellation cause, so that a stop requested “because the operator asked”
// says so in the log. errors.Is() still matches context.Canceled and
// context.DeadlineExceeded.
func WrapCtxErrWithCause(ctx context.Context) error {
	cause := context.Cause(ctx)
	err := ctx.Err() //nolint:gocritic

	if cause == nil {
		return err
	}

	// A cause that already wraps the context error needs no further wrapping.
	if errors.Is(cause, err) {
		return cause
	}

	if errors.Is(err, cause) {
		return err
	}

	return fmt.Errorf("%w: %w", err, cause)
}
