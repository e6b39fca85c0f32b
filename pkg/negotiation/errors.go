package negotiation

import (
	"errors"
	"fmt"
)

var (
	// ErrNegotiationClosed is returned for any proposal against a completed record.
	ErrNegotiationClosed = errors.New("negotiation: closed")
	// ErrWrongTurn is returned when the caller does not own the current turn.
	ErrWrongTurn = errors.New("negotiation: wrong turn")
	// ErrIllegalTransition is returned when a requested maturity advance skips
	// a rung, targets an accepted element, or the mask is malformed.
	ErrIllegalTransition = errors.New("negotiation: illegal maturity transition")
	// ErrUnconfirmedAccept is returned when an accept lacks a value the other
	// party has submitted.
	ErrUnconfirmedAccept = errors.New("negotiation: accept without counterpart confirmation")
	// ErrInvalidValue is returned when a supplied value has the wrong shape.
	ErrInvalidValue = errors.New("negotiation: invalid value")
	// ErrInvalidParties is returned by Setup for unusable party identities.
	ErrInvalidParties = fmt.Errorf("%w: parties must be distinct and non-zero", ErrInvalidValue)
)

// TransitionError attaches the offending element and action to an engine
// error. It unwraps to one of the package sentinels.
type TransitionError struct {
	Element Element
	Action  *Action
	Reason  string
	Err     error
}

func (e *TransitionError) Error() string {
	msg := e.Err.Error()
	if e.Element.Valid() {
		msg += ": " + e.Element.String()
	}
	if e.Action != nil {
		msg += " (" + e.Action.String() + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return e.Err }

func elementError(err error, el Element, reason string) error {
	return &TransitionError{Element: el, Reason: reason, Err: err}
}

func actionError(err error, el Element, a Action, reason string) error {
	return &TransitionError{Element: el, Action: &a, Reason: reason, Err: err}
}
