package common

import "errors"

// Kind classifies engine failures for callers that need to react to the class
// of failure rather than the specific reason.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindAuthorization
	KindState
	KindValidation
	KindFunds
	KindReentrancy
	KindPaused
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindValidation:
		return "validation"
	case KindFunds:
		return "funds"
	case KindReentrancy:
		return "reentrancy"
	case KindPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Error is a named rejection reason. Values are compared by identity, so each
// reason is declared once as a package-level sentinel.
type Error struct {
	kind   Kind
	reason string
}

// NewError declares a rejection reason of the given kind.
func NewError(kind Kind, reason string) *Error {
	return &Error{kind: kind, reason: reason}
}

func (e *Error) Error() string { return e.reason }

// Kind returns the failure class.
func (e *Error) Kind() Kind { return e.kind }

// KindOf returns the class of the first classified error in err's chain.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.kind
	}
	return KindUnknown
}

// Shared reasons used by more than one engine.
var (
	ErrNotOwner       = NewError(KindAuthorization, "caller is not the owner")
	ErrZeroAddress    = NewError(KindValidation, "zero address")
	ErrReentrantCall  = NewError(KindReentrancy, "reentrant call")
	ErrNilState       = NewError(KindUnknown, "state not configured")
	ErrAlreadyPaused  = NewError(KindState, "already paused")
	ErrNotPaused      = NewError(KindState, "not paused")
	ErrNegativeAmount = NewError(KindValidation, "negative amount")
)
