package alm

import (
	"errors"
	"fmt"
)

// Error taxonomy of the engine. Every error returned by this package wraps one of these.
var (
	ErrInvalidMaturity          = errors.New("invalid maturity")
	ErrMissingSeries            = errors.New("missing series")
	ErrMissingCurve             = errors.New("missing curve")
	ErrInvalidConfiguration     = errors.New("invalid configuration")
	ErrCalibrationInconsistency = errors.New("calibration inconsistency")
)

// ValidationError represents a parameter validation failure
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidConfiguration, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", ErrInvalidConfiguration, e.Field, e.Message)
}

// Unwrap allows errors.Is(err, ErrInvalidConfiguration)
func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfiguration
}

// SeriesError reports an input series (or a column of it) that is absent or
// has no usable value for a timeline year.
type SeriesError struct {
	Series string `json:"series"`
	Column string `json:"column,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (e *SeriesError) Error() string {
	name := e.Series
	if e.Column != "" {
		name = fmt.Sprintf("%s[%s]", e.Series, e.Column)
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s: %s", ErrMissingSeries, name, e.Reason)
	}
	return fmt.Sprintf("%s: %s", ErrMissingSeries, name)
}

func (e *SeriesError) Unwrap() error {
	return ErrMissingSeries
}

func missingSeries(series, column, reason string) error {
	return &SeriesError{Series: series, Column: column, Reason: reason}
}

func invalidParam(field, message string, value interface{}) error {
	return &ValidationError{Field: field, Message: message, Value: value}
}
