// Package clustererr defines the error kinds surfaced by cluster-count
// selection and coordinate labelling. Every failure returned from the
// search, knee and transformer packages matches exactly one of the
// sentinels below via errors.Is, and can be unpacked with errors.As.
package clustererr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed coordinate input.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks invalid or infeasible configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrInvalidState marks an operation invoked out of lifecycle order.
	ErrInvalidState = errors.New("invalid state")
)

// Defect names the specific problem found in coordinate input.
type Defect string

const (
	DefectShape      Defect = "shape"
	DefectMissing    Defect = "missing"
	DefectNonNumeric Defect = "non-numeric"
	DefectNonFinite  Defect = "non-finite"
)

// ValidationError reports malformed coordinate input. Row and Col are
// zero-based and set to -1 when the defect is not tied to one cell.
type ValidationError struct {
	Defect Defect
	Row    int
	Col    int
	Msg    string
}

func (e *ValidationError) Error() string {
	if e.Row >= 0 && e.Col >= 0 {
		return fmt.Sprintf("validation error (%s) at row %d, column %d: %s", e.Defect, e.Row, e.Col, e.Msg)
	}
	return fmt.Sprintf("validation error (%s): %s", e.Defect, e.Msg)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Validation builds a ValidationError not tied to a specific cell.
func Validation(defect Defect, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Defect: defect, Row: -1, Col: -1, Msg: fmt.Sprintf(format, args...)}
}

// ValidationAt builds a ValidationError for the cell at (row, col).
func ValidationAt(defect Defect, row, col int, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Defect: defect, Row: row, Col: col, Msg: fmt.Sprintf(format, args...)}
}

// ConfigurationError reports invalid configuration such as a candidate
// range that is too short, k exceeding the sample count, or a curve with
// no detectable knee.
type ConfigurationError struct {
	Field string
	Msg   string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Msg
	}
	return fmt.Sprintf("configuration error (%s): %s", e.Field, e.Msg)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// Configuration builds a ConfigurationError for the named field.
func Configuration(field, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// InvalidStateError reports a call made before its prerequisite step.
// Required names the step that must run first, e.g. "fit".
type InvalidStateError struct {
	Kind     string
	Op       string
	Required string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("this %s instance is not %s yet; call '%s' with appropriate arguments before '%s'",
		e.Kind, pastTense(e.Required), e.Required, e.Op)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// InvalidState builds an InvalidStateError for op on an instance of kind.
func InvalidState(kind, op, required string) *InvalidStateError {
	return &InvalidStateError{Kind: kind, Op: op, Required: required}
}

func pastTense(step string) string {
	switch step {
	case "fit":
		return "fitted"
	case "transform":
		return "transformed"
	default:
		return step + "ed"
	}
}
