package retry

import (
	"fmt"
	"time"

	"github.com/10gen/mongo-external-sync/internal/reportutils"
)

// RetryDurationLimitExceededErr is returned when a callback keeps failing
// with transient errors past the Retryer’s duration limit.
type RetryDurationLimitExceededErr struct {
	lastErr     error
	attempts    int
	duration    time.Duration
	description string
}

func (rde RetryDurationLimitExceededErr) Error() string {
	return fmt.Sprintf(
		"%s did not succeed after %d attempt(s) over %s; last error was: %v",
		rde.description,
		rde.attempts,
		reportutils.DurationToHMS(rde.duration),
		rde.lastErr,
	)
}

func (rde RetryDurationLimitExceededErr) Unwrap() error {
	return rde.lastErr
}
