package model

import (
	"errors"
	"fmt"
)

var (
	ErrNegotiationNotFound = errors.New("negotiation not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrNotParty            = errors.New("user is not a party to this negotiation")
	ErrOutOfTurn           = errors.New("cannot respond to your own offer")
)

// ValidationError is a malformed or empty payload. It is reported only to
// whoever sent it.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TransitionError carries the statuses of a rejected transition.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move negotiation from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
