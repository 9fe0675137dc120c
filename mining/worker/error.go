package worker

import "fmt"

// ErrorCode identifies a kind of error produced by a miner worker.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrNotInitialized indicates a request other than a ready signal was
	// submitted to a worker that has never been signaled ready.
	ErrNotInitialized ErrorCode = iota

	// ErrMinerBusy indicates a mining request was submitted while another
	// search was already outstanding.
	ErrMinerBusy

	// ErrInvalidProof indicates a submitted proof does not satisfy the
	// puzzle for the associated hash.
	ErrInvalidProof

	// ErrEngineFailure indicates the proof-of-work engine failed while
	// searching for a proof.  It is only ever reported through the handle
	// of the affected job.
	ErrEngineFailure

	// ErrWorkerShutdown indicates a request was submitted to a worker that
	// is not running.
	ErrWorkerShutdown

	// numErrorCodes is the maximum error code number used in tests.
	numErrorCodes
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrNotInitialized: "ErrNotInitialized",
	ErrMinerBusy:      "ErrMinerBusy",
	ErrInvalidProof:   "ErrInvalidProof",
	ErrEngineFailure:  "ErrEngineFailure",
	ErrWorkerShutdown: "ErrWorkerShutdown",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error identifies a miner worker error.  It is used to indicate that a
// request was rejected or that an asynchronous search failed.  The caller can
// use type assertions along with the ErrorCode field to determine the
// specific reason, or the IsErrorCode convenience function.
//
// Every condition an Error reports is recoverable from the worker's point of
// view.  The worker itself never terminates or loses state because of one.
type Error struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	return e.Description
}

// minerError creates an Error given a set of arguments.
func minerError(c ErrorCode, desc string) Error {
	return Error{ErrorCode: c, Description: desc}
}

// IsErrorCode returns whether or not the passed error is a worker Error with
// the passed error code.
func IsErrorCode(err error, c ErrorCode) bool {
	werr, ok := err.(Error)
	return ok && werr.ErrorCode == c
}
