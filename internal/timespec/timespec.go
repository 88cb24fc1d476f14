// Package timespec resolves human supplied start times into instants.
//
// A start time is either "now" or an explicit timestamp plus the pattern used
// to read it. Patterns containing a '%' are strftime patterns (for example
// "%Y-%m-%d %H:%M:%S"); anything else is a Go reference layout such as
// time.RFC3339. An empty pattern means time.RFC3339.
package timespec

import (
	"fmt"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
)

// StartFrom declares the start time reported for a task before its first run.
type StartFrom struct {
	now     bool
	value   string
	pattern string
}

// Now returns a StartFrom that resolves to the time of resolution.
func Now() StartFrom {
	return StartFrom{now: true}
}

// At returns a StartFrom that parses value with pattern.
func At(value, pattern string) StartFrom {
	return StartFrom{value: value, pattern: pattern}
}

// ParseError is returned when an explicit timestamp cannot be read.
type ParseError struct {
	Value   string
	Pattern string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("timespec: cannot parse %q with pattern %q: %v", e.Value, e.Pattern, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Resolve turns the specification into a concrete instant. now is returned
// unchanged for Now().
func (s StartFrom) Resolve(now time.Time) (time.Time, error) {
	if s.now {
		return now, nil
	}

	pattern := s.pattern
	if pattern == "" {
		pattern = time.RFC3339
	}

	var (
		t   time.Time
		err error
	)
	if strings.ContainsRune(pattern, '%') {
		t, err = strftime.Parse(pattern, s.value)
	} else {
		t, err = time.Parse(pattern, s.value)
	}
	if err != nil {
		return time.Time{}, &ParseError{Value: s.value, Pattern: pattern, Err: err}
	}

	return t, nil
}

// String renders the specification for logs.
func (s StartFrom) String() string {
	if s.now {
		return "now"
	}
	if s.pattern == "" {
		return s.value
	}
	return s.value + " (" + s.pattern + ")"
}
