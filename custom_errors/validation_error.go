package custom_errors

import (
	"errors"
	"fmt"
)

// ValidationError collects every problem found in a piece of caller input so
// they can be reported together instead of one at a time.
type ValidationError struct {
	Errors []error `json:"errors"`
}

// NewValidationError returns a ValidationError holding the non-nil errs.
func NewValidationError(errs ...error) *ValidationError {
	v := &ValidationError{}
	for _, err := range errs {
		v.Add(err)
	}
	return v
}

func (c *ValidationError) Add(err error) {
	if err == nil {
		return
	}
	c.Errors = append(c.Errors, err)
}

// Addf records a formatted validation message for field.
func (c *ValidationError) Addf(field, format string, args ...any) {
	c.Add(fmt.Errorf("%s: %s", field, fmt.Sprintf(format, args...)))
}

func (c *ValidationError) HasError() bool {
	return len(c.Errors) > 0
}

// ErrOrNil returns c as an error when it holds at least one problem.
func (c *ValidationError) ErrOrNil() error {
	if c == nil || !c.HasError() {
		return nil
	}
	return c
}

func (c *ValidationError) Error() string {
	if len(c.Errors) == 0 {
		return ""
	}
	return fmt.Sprintf("validation failed: %v", errors.Join(c.Errors...))
}

func (c *ValidationError) Unwrap() []error {
	return c.Errors
}
