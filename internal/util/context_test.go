package util

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

func (suite *UnitTestSuite) TestWrapCtxErrWithCause() {
	ctx, cancel := context.WithCancelCause(context.Background())
	suite.Assert().NoError(WrapCtxErrWithCause(ctx))

	cancel(errors.New("operator requested stop"))
	err := WrapCtxErrWithCause(ctx)
	suite.Assert().ErrorIs(err, context.Canceled)
	suite.Assert().ErrorContains(err, "operator requested stop")

	ctx, cancel = context.WithCancelCause(context.Background())
	cause := fmt.Errorf("all done (%w)", context.Canceled)
	cancel(cause)
	suite.Assert().Equal(cause, WrapCtxErrWithCause(ctx))
}
