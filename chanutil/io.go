package chanutil

import (
	"context"

	"github.com/10gen/mongo-external-sync/internal/util"
	"github.com/samber/mo"
)

// ReadWithDoneCheck reads one value from ch unless ctx ends first, in which
// case it returns the context’s error with its cancellation cause. A closed
// channel yields None and a nil error.
func ReadWithDoneCheck[T any](ctx context.Context, ch <-chan T) (mo.Option[T], error) {
	select {
	case <-ctx.Done():
		return mo.None[T](), util.WrapCtxErrWithCause(ctx)
	case val, ok := <-ch:
		if ok {
			return mo.Some(val), nil
		}

		return mo.None[T](), nil
	}
}

// WriteWithDoneCheck sends val to ch unless ctx ends first, in which case
// it returns the context’s error with its cancellation cause.
func WriteWithDoneCheck[T any](ctx context.Context, ch chan<- T, val T) error {
	select {
	case <-ctx.Done():
		return util.WrapCtxErrWithCause(ctx)
	case ch <- val:
		return nil
	}
}
