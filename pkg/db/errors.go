package db

import (
	"errors"
	"fmt"
)

// StoreError is returned for any failure talking to the relational store:
// connectivity, constraint violations, failed commits.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsStoreError reports whether err is or wraps a *StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsStoreError(err) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
