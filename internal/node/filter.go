package node

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the date-only input format of the form
const DateLayout = "2006-01-02"

// ErrValidation is wrapped by every ValidationError
var ErrValidation = errors.New("validation failed")

// ValidationError reports an unusable form input
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ParseStart converts a YYYY-MM-DD value to 00:00:00 UTC of that day.
// Empty input yields the zero time.
func ParseStart(value string) (time.Time, error) {
	return parseDay(value, false)
}

// ParseEnd converts a YYYY-MM-DD value to 23:59:59 UTC of that day.
// Empty input yields the zero time.
func ParseEnd(value string) (time.Time, error) {
	return parseDay(value, true)
}

func parseDay(value string, endOfDay bool) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}

	day, err := time.ParseInLocation(DateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		return day.Add(24*time.Hour - time.Second), nil
	}
	return day, nil
}

// NewFilter builds a validated filter from raw form values.
// Content type and both dates are required and start must not be after end.
func NewFilter(contentType, startDate, endDate string) (Filter, error) {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return Filter{}, &ValidationError{Field: "content_type", Reason: "required"}
	}

	start, err := ParseStart(startDate)
	if err != nil {
		return Filter{}, &ValidationError{Field: "start_date", Reason: fmt.Sprintf("expected %s", DateLayout)}
	}
	end, err := ParseEnd(endDate)
	if err != nil {
		return Filter{}, &ValidationError{Field: "end_date", Reason: fmt.Sprintf("expected %s", DateLayout)}
	}

	if start.IsZero() {
		return Filter{}, &ValidationError{Field: "start_date", Reason: "required"}
	}
	if end.IsZero() {
		return Filter{}, &ValidationError{Field: "end_date", Reason: "required"}
	}
	if start.After(end) {
		return Filter{}, &ValidationError{Field: "end_date", Reason: "must not be before start_date"}
	}

	return Filter{ContentType: contentType, Start: start, End: end}, nil
}

// LooseFilter builds a filter for the live count display: missing or malformed
// dates become absent bounds instead of errors.
func LooseFilter(contentType, startDate, endDate string) Filter {
	start, err := ParseStart(startDate)
	if err != nil {
		start = time.Time{}
	}
	end, err := ParseEnd(endDate)
	if err != nil {
		end = time.Time{}
	}
	return Filter{ContentType: strings.TrimSpace(contentType), Start: start, End: end}
}
