package extraction

import "errors"

var (
	// ErrLoginTimeout is returned when the user does not finish signing in within LoginTimeout
	ErrLoginTimeout = errors.New("login timeout")
	// ErrActionFailed is returned when a fixed setup action reports failure
	ErrActionFailed = errors.New("action failed")
	// ErrPaginationStalled is returned when a re-resolved load-more action keeps failing
	ErrPaginationStalled = errors.New("pagination stalled")
	// ErrExtractionFailed wraps the cause of the last failed extraction attempt
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrSinkFailed wraps a result sink error
	ErrSinkFailed = errors.New("failed to store orders")
	// ErrInvalidTransition is returned for a status write the state machine does not allow
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrRunSuperseded is returned when the job record no longer belongs to this run,
	// e.g. after a cancel or a stale sweep
	ErrRunSuperseded = errors.New("job no longer owned by this run")
)
