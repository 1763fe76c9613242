// Package validate turns untrusted declarative operation lists into
// their canonical, defaults-filled form, rejecting anything that could
// escape the sandbox, exhaust resources, or pair incompatible codecs
// and containers. It runs on the submit path before a job is persisted.
package validate

import "fmt"

// ValidationError reports a rejected operation parameter. The field
// name is always safe to return to the client.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation_error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation_error: %s", e.Message)
}

func newError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// SecurityError reports input that looks like an injection or sandbox
// escape attempt. Distinct from ValidationError so callers can alert
// on it separately.
type SecurityError struct {
	Message string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("security_error: %s", e.Message)
}

func newSecurityError(format string, args ...interface{}) *SecurityError {
	return &SecurityError{Message: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	_, ok := err.(*ValidationError)
	return ok
}

// IsSecurityError reports whether err is a SecurityError.
func IsSecurityError(err error) bool {
	_, ok := err.(*SecurityError)
	return ok
}
