package relay

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies every error that leaves the dispatcher.
type Kind int

const (
	// KindInvalidInput: missing or malformed address. Not retryable as is.
	KindInvalidInput Kind = iota + 1
	// KindPolicyDenied: the eligibility policy refused the claim.
	KindPolicyDenied
	// KindUpstreamUnavailable: the node or the claim store failed before anything was sent.
	// Nothing was recorded, so retrying is safe.
	KindUpstreamUnavailable
	// KindDispatchRejected: sending the transfer failed. The transfer may still land if the
	// failure was a timeout after broadcast, so a blind retry can pay twice.
	KindDispatchRejected
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindPolicyDenied:
		return "policy_denied"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindDispatchRejected:
		return "dispatch_rejected"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidAddress      = errors.New("invalid address")
	ErrSufficientBalance   = errors.New("balance is sufficient, no top-up needed")
	ErrCooldown            = errors.New("please wait a moment before claiming again")
	ErrAlreadyClaimed      = errors.New("address has already claimed")
	ErrUpstreamUnavailable = errors.New("service temporarily unavailable")
	ErrDispatchRejected    = errors.New("transaction failed")
)

// Error is the only error type Claim returns. Reason is one of the sentinel
// errors above, so callers can use errors.Is.
type Error struct {
	Kind       Kind
	Reason     error
	Detail     string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Reason.Error()
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Reason
}

// KindOf returns the kind of err, or 0 if err did not come from the dispatcher.
func KindOf(err error) Kind {
	var relayErr *Error
	if errors.As(err, &relayErr) {
		return relayErr.Kind
	}
	return 0
}

func invalidInput(err error) *Error {
	return &Error{Kind: KindInvalidInput, Reason: ErrInvalidAddress, Detail: err.Error()}
}

func unavailable(step string, err error) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Reason: ErrUpstreamUnavailable, Detail: fmt.Sprintf("%s: %v", step, err)}
}

func dispatchFailed(err error) *Error {
	return &Error{Kind: KindDispatchRejected, Reason: ErrDispatchRejected, Detail: err.Error()}
}
