package services

import "errors"

// Domain error kinds. Services wrap these with fmt.Errorf("...: %w", ...)
// so the HTTP layer can map them with errors.Is without string matching.
var (
	ErrValidation             = errors.New("validation failed")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrNotFound               = errors.New("not found")
	ErrUnauthorized           = errors.New("unauthorized")
)

// transientError marks an upstream failure as retryable by the worker.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so IsTransient reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
