package task

import (
	"errors"
	"fmt"
)

var ErrDuplicateID = errors.New("duplicate task id")

// ValidationError reports a rejected task creation request. Nothing is
// persisted when it is returned.
type ValidationError struct {
	Field  string // "description" | "date" | "time"
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
