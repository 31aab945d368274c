package retry

import (
	"time"

	"github.com/rs/zerolog"
)

// FuncInfo stores information relevant to the retrying done. It should
// primarily be used within the closure passed to Retryer.Run.
//
// The attempt number is 0-indexed (0 means this is the first attempt).
type FuncInfo struct {
	attemptNumber int
	durationLimit time.Duration
	lastResetTime time.Time
	description   string
}

// Log logs a debug-level message describing the current attempt.
func (fi *FuncInfo) Log(logger *zerolog.Logger, cmdName string, database string, collection string) {
	// Don't log if no logger is provided. Mostly useful for tests.
	if logger == nil {
		return
	}

	event := logger.Debug()
	if cmdName != "" {
		event.Str("command", cmdName)
	}
	if database != "" {
		event.Str("database", database)
	}
	if collection != "" {
		event.Str("collection", collection)
	}
	event.Str("context", fi.description).
		Int("attemptNumber", fi.attemptNumber).
		Stringer("durationSoFar", fi.GetDurationSoFar()).
		Msg("Running retryable function")
}

// GetAttemptNumber returns the current attempt number (0-indexed).
func (fi *FuncInfo) GetAttemptNumber() int {
	return fi.attemptNumber
}

// GetDurationSoFar returns how long the callback has gone without success.
func (fi *FuncInfo) GetDurationSoFar() time.Duration {
	return time.Since(fi.lastResetTime)
}

// NoteSuccess tells the retryer to reset its measurement of how long the
// callback has been failing. Call this after every successful command in a
// multi-command callback, e.g., after each batch from a cursor.
func (fi *FuncInfo) NoteSuccess() {
	fi.lastResetTime = time.Now()
}
