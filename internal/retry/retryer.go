package retry

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/10gen/mongo-external-sync/internal/logger"
	"github.com/10gen/mongo-external-sync/internal/util"
	"github.com/samber/mo"
)

// RetryCallback is the function that a Retryer runs.
type RetryCallback = func(context.Context, *FuncInfo) error

// Retryer handles retrying operations that fail because of network failures.
type Retryer struct {
	retryLimit           time.Duration
	description          mo.Option[string]
	additionalErrorCodes []int

	// overridden in tests so that they run quickly
	minSleep time.Duration
}

// New returns a new retryer.
func New() *Retryer {
	return &Retryer{
		retryLimit: DefaultDurationLimit,
		minSleep:   minSleepTime,
	}
}

// WithErrorCodes returns a new Retryer that will also retry on the given
// server error codes. Codes set previously are replaced.
func (r *Retryer) WithErrorCodes(codes ...int) *Retryer {
	r2 := *r
	r2.additionalErrorCodes = slices.Clone(codes)

	return &r2
}

// WithRetryLimit returns a new Retryer with the given duration limit.
func (r *Retryer) WithRetryLimit(limit time.Duration) *Retryer {
	r2 := *r
	r2.retryLimit = limit

	return &r2
}

// WithDescription returns a new Retryer whose logs and errors describe the
// retried operation with the given message.
func (r *Retryer) WithDescription(msg string, args ...any) *Retryer {
	r2 := *r
	r2.description = mo.Some(fmt.Sprintf(msg, args...))

	return &r2
}

// Run runs f until it succeeds, fails with a non-transient error, or
// keeps failing past the retry duration limit.
func (r *Retryer) Run(ctx context.Context, logger *logger.Logger, f RetryCallback) error {
	fi := &FuncInfo{
		durationLimit: r.retryLimit,
		lastResetTime: time.Now(),
		description:   r.description.OrElse("retryable function"),
	}

	sleepTime := r.minSleep

	for {
		err := f(ctx, fi)
		if err == nil {
			return nil
		}

		if !r.shouldRetry(logger, sleepTime, err) {
			return err
		}

		if fi.GetDurationSoFar() > fi.durationLimit {
			return RetryDurationLimitExceededErr{
				lastErr:     err,
				attempts:    fi.attemptNumber + 1,
				duration:    fi.GetDurationSoFar(),
				description: fi.description,
			}
		}

		select {
		case <-ctx.Done():
			logger.Error().Err(ctx.Err()).Msg("Context was canceled. Aborting retry loop.")
			return util.WrapCtxErrWithCause(ctx)
		case <-time.After(sleepTime):
			sleepTime = min(sleepTime*sleepTimeMultiplier, maxSleepTime)
		}

		fi.attemptNumber++
	}
}

func (r *Retryer) shouldRetry(
	logger *logger.Logger,
	sleepTime time.Duration,
	err error,
) bool {
	errCode := util.GetErrorCode(err)

	if util.IsTransientError(err) {
		logger.Warn().
			Int("error code", errCode).
			Err(err).
			Str("description", r.description.OrElse("")).
			Msgf("Waiting %s to retry operation after transient error.", sleepTime)
		return true
	}

	if slices.Contains(r.additionalErrorCodes, errCode) {
		logger.Warn().
			Int("error code", errCode).
			Err(err).
			Msgf("Waiting %s to retry operation after an error because it is in our additional codes list.", sleepTime)
		return true
	}

	logger.Debug().Err(err).Int("error code", errCode).
		Msg("Not retrying on error because it is not transient nor is it in our additional codes list.")

	return false
}
