package util

import (
	"context"
	"io"
	"net"
	"strings"

	"github.com/10gen/mongo-external-sync/mmongo"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/x/mongo/driver"
	"go.mongodb.org/mongo-driver/x/mongo/driver/topology"
)

// Server error codes that the sync tool reacts to. Add codes here rather
// than using bare integers elsewhere.
const (
	NamespaceNotFound = 26
	NamespaceExists   = 48
	CursorKilled      = 237
	IllegalOperation  = 20
)

//
// Helpers for common server errors. All server error codes can be found at:
// https://github.com/mongodb/mongo/blob/master/src/mongo/base/error_codes.yml
//

// IsDuplicateKeyError returns true if this error is a DuplicateKeyError.
func IsDuplicateKeyError(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}

// IsNamespaceNotFoundError returns true if this is a NamespaceNotFoundError.
func IsNamespaceNotFoundError(err error) bool {
	return GetErrorCode(err) == NamespaceNotFound
}

// IsNamespaceExistsError returns true if this is a NamespaceExistsError.
func IsNamespaceExistsError(err error) bool {
	return GetErrorCode(err) == NamespaceExists
}

// IsNoDocumentsError returns true if this is a ErrNoDocuments.
func IsNoDocumentsError(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// IsContextCanceledError returns true if this is a Context Canceled error.
func IsContextCanceledError(err error) bool {
	return errors.Is(err, context.Canceled) ||
		strings.Contains(err.Error(), context.Canceled.Error())
}

func isRetryablePoolError(err error) bool {
	rerr, ok := err.(driver.RetryablePoolError)
	return ok && rerr.Retryable()
}

func isServerSelectionError(err error) bool {
	_, ok := err.(topology.ServerSelectionError)
	return ok
}

func isConnectionError(err error) bool {
	if connErr, ok := err.(topology.ConnectionError); ok {
		// Network errors are usually wrapped inside ConnectionError instead of being at top-level.
		return isNetworkError(connErr.Wrapped)
	}

	return false
}

// IsTransientError returns true if this is an error that is reconnectable and can be retried.
func IsTransientError(err error) bool {
	// Find the root cause.
	err = errors.Cause(err)
	if err == nil {
		return false
	}

	if IsContextCanceledError(err) {
		return false
	}

	if isNetworkError(err) {
		return true
	}

	if isConnectionError(err) {
		return true
	}

	if hasTransientErrorCode(err) {
		return true
	}

	if hasTransientErrorLabel(err) {
		return true
	}

	if isRetryablePoolError(err) {
		return true
	}

	return isServerSelectionError(err)
}

// isNetworkError returns true if this is a NetworkError.
func isNetworkError(err error) bool {
	// Connection errors from syscalls, connection reset by peer, etc.
	if _, ok := err.(net.Error); ok {
		return true
	}

	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return true
	}

	if err.Error() == "no reachable servers" || err.Error() == "connection closed" {
		return true
	}

	// Network errors from the driver
	return mongo.IsNetworkError(err)
}

var transientErrorCodes = mapset.NewSet(
	6,     // HostUnreachable
	7,     // HostNotFound
	43,    // CursorNotFound
	50,    // MaxTimeMSExpired
	64,    // WriteConcernFailed
	89,    // NetworkTimeout
	91,    // ShutdownInProgress
	112,   // WriteConflict
	133,   // FailedToSatisfyReadPreference
	134,   // ReadConcernMajorityNotAvailableYet
	175,   // QueryPlanKilled
	189,   // PrimarySteppedDown
	202,   // NetworkInterfaceExceededTimeLimit
	262,   // ExceededTimeLimit
	317,   // ConnectionPoolExpired
	365,   // TemporarilyUnavailable
	384,   // ConnectionError
	9001,  // SocketException
	10107, // NotWritablePrimary
	11600, // InterruptedAtShutdown
	11602, // InterruptedDueToReplStateChange
	13435, // NotPrimaryNoSecondaryOk
	13436, // NotPrimaryOrSecondary
)

// hasTransientErrorCode returns true if the error has one of a set of known-to-be-transient
// server error codes.
func hasTransientErrorCode(err error) bool {
	if GetErrorCode(err) == 0 {
		// The server may send "not master" without an error code.
		if strings.Contains(err.Error(), "not master") {
			return true
		}
	}

	for code := range transientErrorCodes.Iter() {
		if mmongo.ErrorHasCode(err, code) {
			return true
		}
	}

	return false
}

// The IsNetworkError() check above already covers the "NetworkError" label.
var transientErrorLabels = [3]string{
	"ResumableChangeStreamError",
	"RetryableWriteError",
	"TransientTransactionError",
}

// hasTransientErrorLabel returns true if the error is a mongo.ServerError with a label
// indicating a transient error.
func hasTransientErrorLabel(err error) bool {
	if err, ok := err.(mongo.ServerError); ok {
		for _, l := range transientErrorLabels {
			if err.HasErrorLabel(l) {
				return true
			}
		}
	}
	return false
}

// GetErrorCode returns the provided error’s top-level error code.
// It returns 0 if the error is nil or not one of the supported error types.
func GetErrorCode(err error) int {
	switch e := errors.Cause(err).(type) {
	case mongo.CommandError:
		return int(e.Code)
	case driver.Error:
		return int(e.Code)
	case mongo.WriteError:
		return e.Code
	case mongo.WriteConcernError:
		return e.Code
	case mongo.WriteException:
		for _, we := range e.WriteErrors {
			return GetErrorCode(we)
		}
		if e.WriteConcernError != nil {
			return e.WriteConcernError.Code
		}
		return 0
	case mongo.BulkWriteException:
		for _, we := range e.WriteErrors {
			return we.Code
		}
		if e.WriteConcernError != nil {
			return e.WriteConcernError.Code
		}
		return 0
	default:
		return 0
	}
}
