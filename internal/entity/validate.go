package entity

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidationError reports the first invalid field of a record.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ValidEmail checks the loose address shape the backend accepts.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// Present reports whether s has non-blank content.
func Present(s string) bool {
	return strings.TrimSpace(s) != ""
}

// ValidNumber reports whether s parses as a number.
func ValidNumber(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// RequireID checks a foreign key that must be set and numeric.
func RequireID(field, label string, id ID) error {
	if !Present(string(id)) {
		return Invalid(field, "%s is required", label)
	}
	if !ValidNumber(string(id)) {
		return Invalid(field, "%s must be a valid number", label)
	}
	return nil
}

// Require checks a mandatory text field.
func Require(field, label, value string) error {
	if !Present(value) {
		return Invalid(field, "%s is required", label)
	}
	return nil
}

// First returns the first non-nil error.
func First(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
