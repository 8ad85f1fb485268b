package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can decide how to react.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindAuthRequired
	KindUnauthorized
	KindInsufficientResource
	KindPersistence
	KindResponder
	KindNotFound
	KindInvalid
	KindBusy
	KindStale
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthRequired:
		return "auth_required"
	case KindUnauthorized:
		return "unauthorized"
	case KindInsufficientResource:
		return "insufficient_resource"
	case KindPersistence:
		return "persistence_failure"
	case KindResponder:
		return "responder_failure"
	case KindNotFound:
		return "not_found"
	case KindInvalid:
		return "invalid"
	case KindBusy:
		return "busy"
	case KindStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Two Errors match with errors.Is when their kinds match,
// so the sentinels below work against any wrapped Error of the same kind.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

var (
	ErrAuthRequired       = &Error{Kind: KindAuthRequired}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized}
	ErrInsufficientTokens = &Error{Kind: KindInsufficientResource}
	ErrPersistence        = &Error{Kind: KindPersistence}
	ErrResponder          = &Error{Kind: KindResponder}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrEmptyMessage       = &Error{Kind: KindInvalid, Err: errors.New("message text is empty")}
	ErrInvalidTransition  = &Error{Kind: KindInvalid, Err: errors.New("transition not allowed in current mode")}
	ErrTurnInFlight       = &Error{Kind: KindBusy, Err: errors.New("a turn is already in flight")}
	ErrStale              = &Error{Kind: KindStale}
)

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
