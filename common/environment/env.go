// Package environment overlays environment variables onto configuration
// values that were already filled from a file or from defaults.
//
// Every helper leaves the destination untouched when the variable is unset
// or empty. Values that fail to parse are reported as errors rather than
// silently ignored, so a typo in a deployment manifest surfaces at startup.
package environment

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Overlay applies a sequence of overrides and joins every parse error.
type Overlay struct {
	errs []error
}

// Err returns the joined parse errors, or nil.
func (o *Overlay) Err() error {
	return errors.Join(o.errs...)
}

// String replaces *dst with the value of name when it is set.
func (o *Overlay) String(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

// Int parses name as a decimal integer.
func (o *Overlay) Int(dst *int, name string) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		o.errs = append(o.errs, fmt.Errorf("%s: %w", name, err))
		return
	}
	*dst = n
}

// Float parses name as a float64.
func (o *Overlay) Float(dst *float64, name string) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		o.errs = append(o.errs, fmt.Errorf("%s: %w", name, err))
		return
	}
	*dst = f
}

// Bool parses name with strconv.ParseBool ("1", "true", "0", "false", ...).
func (o *Overlay) Bool(dst *bool, name string) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		o.errs = append(o.errs, fmt.Errorf("%s: %w", name, err))
		return
	}
	*dst = b
}

// Duration parses name as a time.Duration ("30s", "5m", "1h").
func (o *Overlay) Duration(dst *time.Duration, name string) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		o.errs = append(o.errs, fmt.Errorf("%s: %w", name, err))
		return
	}
	*dst = d
}

// StringOr returns the value of the named environment variable, or
// defaultValue if the variable is unset or empty.
func StringOr(name, defaultValue string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return defaultValue
}

// RequiredString returns the value of the named environment variable or an
// error if it is unset or empty.
func RequiredString(name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("required environment variable %q is not set", name)
	}
	return v, nil
}
