package model

import (
	"errors"
	"fmt"
)

// Error kinds. Every error leaving an adapter or a tool executor matches
// exactly one of these with errors.Is.
var (
	ErrTransport     = errors.New("network error")
	ErrAuth          = errors.New("authentication error")
	ErrRateLimit     = errors.New("rate limit exceeded")
	ErrProtocol      = errors.New("protocol error")
	ErrToolExecution = errors.New("tool execution failed")
	ErrValidation    = errors.New("invalid tool arguments")
)

// Session-level conditions.
var (
	ErrBusy       = errors.New("a reply is already being generated")
	ErrToolRounds = errors.New("tool round limit reached")
	ErrNotFound   = errors.New("not found")
)

// Error carries a taxonomy kind together with where it happened and the cause.
type Error struct {
	Kind   error
	Source string // vendor or tool name
	Status int    // HTTP status when known
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s: %v (status %d): %v", e.Source, e.Kind, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Source, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Source, e.Kind)
	}
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError builds an Error of the given kind.
func NewError(kind error, source string, err error) *Error {
	return &Error{Kind: kind, Source: source, Err: err}
}

// Kind returns the taxonomy kind of err, or nil if it has none.
func Kind(err error) error {
	for _, k := range []error{ErrTransport, ErrAuth, ErrRateLimit, ErrProtocol, ErrToolExecution, ErrValidation} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
