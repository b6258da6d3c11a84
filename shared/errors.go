package shared

import (
	"errors"
)

// Provider errors are recoverable and scoped to a single ticker or operation.
// The periodic tick is the retry mechanism, failed operations are skipped for
// the current tick and reattempted on the next one.
var (
	// ErrCalendarUnavailable indicates the earnings calendar provider failed.
	ErrCalendarUnavailable = errors.New("earnings calendar unavailable")
	// ErrSentimentUnavailable indicates the sentiment provider failed.
	ErrSentimentUnavailable = errors.New("sentiment provider unavailable")
	// ErrExecutionRejected indicates the execution provider rejected an order.
	ErrExecutionRejected = errors.New("order rejected by execution provider")
	// ErrInsufficientFunds indicates the account lacks buying power for an order.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrPositionAbsent indicates the execution provider reports no open
	// position backing an exit order. Exit paths treat it as confirmation
	// of the close, not a failure.
	ErrPositionAbsent = errors.New("position absent at execution provider")
	// ErrProviderTimeout indicates a provider call exceeded its bounded wait.
	ErrProviderTimeout = errors.New("provider call timed out")
)

// ErrInvalidScore indicates a sentiment score outside the valid range. The
// affected ticker is treated as a hold for the current tick.
var ErrInvalidScore = errors.New("invalid sentiment score")

// ErrInvariantViolation indicates corrupted tracker state, eg. two open
// positions for one ticker. It is fatal to the affected ticker's processing
// for the current tick and must be surfaced loudly, never repaired silently.
var ErrInvariantViolation = errors.New("position invariant violated")
