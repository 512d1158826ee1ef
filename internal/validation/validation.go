// Package validation provides field validation for OAuth client configuration.
// A Validator collects every violation instead of stopping at the first one.
package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a single violated rule
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// Errors is the set of violations found by a Validator
type Errors []*ValidationError

func (e Errors) Error() string {
	return strings.Join(e.Messages(), "; ")
}

// Messages returns one human readable line per violation
func (e Errors) Messages() []string {
	msgs := make([]string, 0, len(e))
	for _, v := range e {
		msgs = append(msgs, v.Error())
	}
	return msgs
}

// Validator accumulates violations across checks
type Validator struct {
	errs Errors
}

// Add records a violation for field
func (v *Validator) Add(field, message string) {
	v.errs = append(v.errs, &ValidationError{Field: field, Message: message})
}

// Check records a violation when ok is false
func (v *Validator) Check(ok bool, field, message string) {
	if !ok {
		v.Add(field, message)
	}
}

// Required checks that value is not blank
func (v *Validator) Required(field, value string) {
	v.Check(strings.TrimSpace(value) != "", field, "is required")
}

// URL checks that value is present and an absolute URL
func (v *Validator) URL(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.Add(field, "is required")
		return
	}
	v.OptionalURL(field, value)
}

// OptionalURL checks value only when it is set
func (v *Validator) OptionalURL(field, value string) {
	if value == "" {
		return
	}
	if err := ValidateURL(value); err != nil {
		v.Add(field, err.Error())
	}
}

// NonEmpty checks that values has at least one non-blank entry
func (v *Validator) NonEmpty(field string, values []string) {
	for _, s := range values {
		if strings.TrimSpace(s) != "" {
			return
		}
	}
	v.Add(field, "must contain at least one entry")
}

// Valid reports whether no violation was recorded
func (v *Validator) Valid() bool {
	return len(v.errs) == 0
}

// Err returns the collected violations or nil
func (v *Validator) Err() error {
	if v.Valid() {
		return nil
	}
	return v.errs
}

// ValidateURL checks that raw parses as an absolute URL with a scheme and host
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("must be a valid URL: %v", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL, got %q", raw)
	}
	return nil
}
