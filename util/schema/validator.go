package schema

import (
	"fmt"
	"net/mail"
	"reflect"
	"regexp"
	"strings"
)

// Validator accumulates constraint violations for manual argument checking.
// Each method records an error when its constraint fails; the zero-value
// checks short-circuit nothing, callers chain as many as they need.
type Validator struct {
	errors []string
}

// NewValidator creates an empty validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Required records an error when value is nil, an empty string, or a zero
// value.
func (v *Validator) Required(name string, value interface{}) *Validator {
	if value == nil {
		v.errors = append(v.errors, fmt.Sprintf("field %q is required", name))
		return v
	}
	rv := reflect.ValueOf(value)
	if rv.IsZero() {
		v.errors = append(v.errors, fmt.Sprintf("field %q is required", name))
	}
	return v
}

// Min records an error when value is below min.
func (v *Validator) Min(name string, value, min float64) *Validator {
	if value < min {
		v.errors = append(v.errors, fmt.Sprintf("field %q must be >= %v", name, min))
	}
	return v
}

// Max records an error when value is above max.
func (v *Validator) Max(name string, value, max float64) *Validator {
	if value > max {
		v.errors = append(v.errors, fmt.Sprintf("field %q must be <= %v", name, max))
	}
	return v
}

// MinLength records an error when value is shorter than min characters.
func (v *Validator) MinLength(name, value string, min int) *Validator {
	if len(value) < min {
		v.errors = append(v.errors, fmt.Sprintf("field %q must be at least %d characters", name, min))
	}
	return v
}

// MaxLength records an error when value is longer than max characters.
func (v *Validator) MaxLength(name, value string, max int) *Validator {
	if len(value) > max {
		v.errors = append(v.errors, fmt.Sprintf("field %q must be at most %d characters", name, max))
	}
	return v
}

// Enum records an error when value is not one of allowed.
func (v *Validator) Enum(name, value string, allowed []string) *Validator {
	for _, a := range allowed {
		if value == a {
			return v
		}
	}
	v.errors = append(v.errors, fmt.Sprintf("field %q must be one of [%s]", name, strings.Join(allowed, ",")))
	return v
}

// Format records an error when value does not satisfy the named format.
// Supported formats are "email" and any value usable as a regular
// expression pattern.
func (v *Validator) Format(name, value, format string) *Validator {
	switch format {
	case "email":
		if _, err := mail.ParseAddress(value); err != nil {
			v.errors = append(v.errors, fmt.Sprintf("field %q must be a valid email address", name))
		}
	default:
		matched, err := regexp.MatchString(format, value)
		if err != nil || !matched {
			v.errors = append(v.errors, fmt.Sprintf("field %q must match format %q", name, format))
		}
	}
	return v
}

// HasErrors reports whether any constraint failed.
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Error returns the accumulated violations as a single error, or nil when
// everything passed.
func (v *Validator) Error() error {
	if len(v.errors) == 0 {
		return nil
	}
	return fmt.Errorf("validation failed: %s", strings.Join(v.errors, "; "))
}
