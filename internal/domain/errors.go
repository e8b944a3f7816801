package domain

import "errors"

var ErrNotFound = errors.New("message not found")

// ValidationError reports a missing or malformed field. No mutation is
// performed when one is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Reason
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
