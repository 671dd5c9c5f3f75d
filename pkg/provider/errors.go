package provider

import "errors"

// ErrDeclined marks a request the provider received and refused. Any other
// failure (timeout, transport, 5xx) leaves the outcome unknown.
var ErrDeclined = errors.New("provider declined request")

type declinedError struct {
	err error
}

func (e *declinedError) Error() string { return e.err.Error() }

func (e *declinedError) Unwrap() error { return e.err }

func (e *declinedError) Is(target error) bool { return target == ErrDeclined }

// Declined tags err as a definitive refusal.
func Declined(err error) error {
	if err == nil {
		return nil
	}
	return &declinedError{err: err}
}

// IsDeclined reports whether the provider definitively refused the request.
func IsDeclined(err error) bool {
	return errors.Is(err, ErrDeclined)
}
