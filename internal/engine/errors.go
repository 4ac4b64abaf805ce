package engine

import (
	"errors"
	"fmt"
)

// ErrQueueNotFound reports an operation against a queue that does not
// exist.
var ErrQueueNotFound = errors.New("queue does not exist")

// ValidationError reports a rejected parameter. The wire layer maps it to a
// sender-fault SQS error.
type ValidationError struct {
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Param, e.Reason)
}

func validationErr(param, format string, args ...any) error {
	return &ValidationError{Param: param, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
