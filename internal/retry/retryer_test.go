package retry

import (
	"context"
	"errors"
	"time"

	"github.com/10gen/mongo-external-sync/internal/util"
	"go.mongodb.org/mongo-driver/mongo"
)

var someNetworkError = &mongo.CommandError{
	Labels: []string{"NetworkError"},
	Name:   "NetworkError",
}

var badError = errors.New("I am fatal!")

func (suite *UnitTestSuite) TestRetryer() {
	retryer := newFastRetryer()
	logger := suite.Logger()

	suite.Run("with a function that immediately succeeds", func() {
		attemptNumber := -1
		f := func(_ context.Context, ri *FuncInfo) error {
			attemptNumber = ri.GetAttemptNumber()
			return nil
		}

		err := retryer.Run(suite.Context(), logger, f)
		suite.NoError(err)
		suite.Equal(0, attemptNumber)
	})

	suite.Run("with a function that succeeds after two attempts", func() {
		attemptNumber := -1
		f := func(_ context.Context, ri *FuncInfo) error {
			attemptNumber = ri.GetAttemptNumber()
			if attemptNumber < 2 {
				return someNetworkError
			}
			return nil
		}

		err := retryer.Run(suite.Context(), logger, f)
		suite.NoError(err)
		suite.Equal(2, attemptNumber)
	})

	suite.Run("with a non-transient error", func() {
		attempts := 0
		err := retryer.Run(suite.Context(), logger, func(context.Context, *FuncInfo) error {
			attempts++
			return badError
		})
		suite.ErrorIs(err, badError)
		suite.Equal(1, attempts)
	})
}

func (suite *UnitTestSuite) TestRetryerDurationLimitIsZero() {
	retryer := newFastRetryer().WithRetryLimit(0).WithDescription("testing %s", "limits")

	attemptNumber := -1
	f := func(_ context.Context, ri *FuncInfo) error {
		attemptNumber = ri.GetAttemptNumber()
		time.Sleep(time.Millisecond)
		return someNetworkError
	}

	err := retryer.Run(suite.Context(), suite.Logger(), f)
	suite.Assert().ErrorAs(err, &RetryDurationLimitExceededErr{})
	suite.Assert().ErrorIs(err, someNetworkError)
	suite.Assert().Contains(err.Error(), "testing limits")
	suite.Assert().Equal(0, attemptNumber)
}

func (suite *UnitTestSuite) TestRetryerDurationReset() {
	retryer := newFastRetryer().WithRetryLimit(time.Minute)

	successIterations := 0
	f := func(_ context.Context, ri *FuncInfo) error {
		// Artificially advance how much time was taken.
		ri.lastResetTime = ri.lastResetTime.Add(-2 * ri.durationLimit)

		ri.NoteSuccess()

		successIterations++
		if successIterations == 1 {
			return someNetworkError
		}

		return nil
	}

	err := retryer.Run(suite.Context(), suite.Logger(), f)
	suite.Assert().NoError(err)
	suite.Assert().Equal(2, successIterations)
}

func (suite *UnitTestSuite) TestCancelViaContext() {
	retryer := New()

	counter := 0
	f := func(_ context.Context, _ *FuncInfo) error {
		counter++
		if counter == 1 {
			return errors.New("not master")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(suite.Context())
	cancel()

	err := retryer.Run(ctx, suite.Logger(), f)
	suite.ErrorIs(err, context.Canceled)
	suite.Equal(1, counter)
}

func (suite *UnitTestSuite) TestRetryerAdditionalErrorCodes() {
	logger := suite.Logger()

	customError := mongo.CommandError{
		Name: "CustomError",
		Code: 42,
	}

	var attemptNumber int
	f := func(_ context.Context, ri *FuncInfo) error {
		attemptNumber = ri.GetAttemptNumber()
		if attemptNumber == 0 {
			return customError
		}
		return nil
	}

	suite.Run("with no additional error codes", func() {
		err := newFastRetryer().Run(suite.Context(), logger, f)
		suite.Equal(42, util.GetErrorCode(err))
		suite.Equal(0, attemptNumber)
	})

	suite.Run("with one additional error code", func() {
		err := newFastRetryer().WithErrorCodes(42).Run(suite.Context(), logger, f)
		suite.NoError(err)
		suite.Equal(1, attemptNumber)
	})

	suite.Run("with additional error codes that don't match error", func() {
		err := newFastRetryer().WithErrorCodes(41, 43, 44).Run(suite.Context(), logger, f)
		suite.Equal(42, util.GetErrorCode(err))
		suite.Equal(0, attemptNumber)
	})
}
