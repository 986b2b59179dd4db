package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of reconciliation errors
type ErrorCategory string

const (
	CategorySource        ErrorCategory = "source"
	CategoryValidation    ErrorCategory = "validation"
	CategoryRepair        ErrorCategory = "repair"
	CategoryRecalculation ErrorCategory = "recalculation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// Source errors
	CodeSourceUnavailable ErrorCode = "source_unavailable"
	CodeSourceTimeout     ErrorCode = "source_timeout"
	CodeBadResponse       ErrorCode = "bad_response"

	// Validation errors
	CodeInvalidRecord ErrorCode = "invalid_record"
	CodeInvalidAmount ErrorCode = "invalid_amount"
	CodeInvalidPeriod ErrorCode = "invalid_period"
	CodeMissingField  ErrorCode = "missing_field"

	// Repair errors
	CodeRepairFailed ErrorCode = "repair_failed"

	// Recalculation errors
	CodeRecalculationFailed ErrorCode = "recalculation_failed"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// ReconciliationError is the base error type for all engine errors
type ReconciliationError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *ReconciliationError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *ReconciliationError) Unwrap() error {
	return e.Cause
}

// IsDegradable reports whether the caller may continue with partial data.
// Source outages and single-record validation failures degrade; repair and
// recalculation failures must be surfaced as explicit failure states.
func (e *ReconciliationError) IsDegradable() bool {
	return e.Category == CategorySource || e.Category == CategoryValidation
}

// WithContext adds context information to the error
func (e *ReconciliationError) WithContext(key string, value interface{}) *ReconciliationError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *ReconciliationError) WithSuggestion(suggestion string) *ReconciliationError {
	e.Suggestion = suggestion
	return e
}

// New creates a new ReconciliationError
func New(category ErrorCategory, code ErrorCode, message string) *ReconciliationError {
	return &ReconciliationError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with ReconciliationError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconciliationError {
	if err == nil {
		return nil
	}

	return &ReconciliationError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// stackTracer interface for extracting stack traces
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Specific error constructors

// SourceUnavailableError reports that one feed could not be fetched.
// Callers treat it as "zero records from this source" and keep going.
func SourceUnavailableError(source string, endpoint string, err error) *ReconciliationError {
	message := fmt.Sprintf("source %s unavailable", source)

	var result *ReconciliationError
	if err != nil {
		result = Wrap(err, CategorySource, CodeSourceUnavailable, message)
	} else {
		result = New(CategorySource, CodeSourceUnavailable, message)
	}

	return result.
		WithSuggestion("the other source is still reconciled; retry to restore full coverage").
		WithContext("source", source).
		WithContext("endpoint", endpoint)
}

// RecordValidationError reports a single malformed record from a feed.
// The offending record is dropped; the batch continues.
func RecordValidationError(code ErrorCode, field string, value interface{}, err error) *ReconciliationError {
	var message string
	switch code {
	case CodeInvalidAmount:
		message = fmt.Sprintf("invalid amount in field '%s': %v", field, value)
	case CodeInvalidPeriod:
		message = fmt.Sprintf("invalid period in field '%s': %v", field, value)
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
	default:
		message = fmt.Sprintf("invalid record field '%s': %v", field, value)
	}

	var result *ReconciliationError
	if err != nil {
		result = Wrap(err, CategoryValidation, code, message)
	} else {
		result = New(CategoryValidation, code, message)
	}

	return result.
		WithContext("field", field).
		WithContext("value", value)
}

// RepairFailedError reports a failed server-side repair pass. The caller
// surfaces a zero-count report and does not block further use.
func RepairFailedError(scope string, err error) *ReconciliationError {
	message := fmt.Sprintf("repair pass failed for scope %s", scope)

	var result *ReconciliationError
	if err != nil {
		result = Wrap(err, CategoryRepair, CodeRepairFailed, message)
	} else {
		result = New(CategoryRepair, CodeRepairFailed, message)
	}

	return result.
		WithSuggestion("data is unchanged; trigger the repair again").
		WithContext("scope", scope)
}

// RecalculationFailedError reports a failed progressive-recalculation
// round-trip. The pending exclusion change must not be applied to
// displayed totals.
func RecalculationFailedError(entityFilter string, err error) *ReconciliationError {
	message := "progressive recalculation failed"
	if entityFilter != "" {
		message = fmt.Sprintf("progressive recalculation failed for %s", entityFilter)
	}

	var result *ReconciliationError
	if err != nil {
		result = Wrap(err, CategoryRecalculation, CodeRecalculationFailed, message)
	} else {
		result = New(CategoryRecalculation, CodeRecalculationFailed, message)
	}

	return result.
		WithSuggestion("totals still reflect the last confirmed state; retry the toggle").
		WithContext("entity_filter", entityFilter)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *ReconciliationError {
	var message string
	switch code {
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
	default:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
	}

	var result *ReconciliationError
	if err != nil {
		result = Wrap(err, CategoryConfiguration, code, message)
	} else {
		result = New(CategoryConfiguration, code, message)
	}

	return result.
		WithContext("setting", setting).
		WithContext("value", value)
}

// InternalError creates an internal error
func InternalError(operation string, err error) *ReconciliationError {
	message := fmt.Sprintf("unexpected error during %s", operation)

	var result *ReconciliationError
	if err != nil {
		result = Wrap(err, CategoryInternal, CodeUnexpectedError, message)
	} else {
		result = New(CategoryInternal, CodeUnexpectedError, message)
	}

	return result.WithContext("operation", operation)
}

// Predicates used by the engine to pick a degradation policy

// IsSourceUnavailable checks whether err reports a failed feed fetch
func IsSourceUnavailable(err error) bool {
	return hasCategory(err, CategorySource)
}

// IsRecalculationFailed checks whether err reports a failed recalculation
func IsRecalculationFailed(err error) bool {
	return hasCategory(err, CategoryRecalculation)
}

// IsRepairFailed checks whether err reports a failed repair pass
func IsRepairFailed(err error) bool {
	return hasCategory(err, CategoryRepair)
}

// IsValidation checks whether err reports a malformed record
func IsValidation(err error) bool {
	return hasCategory(err, CategoryValidation)
}

func hasCategory(err error, category ErrorCategory) bool {
	reconErr, ok := AsReconciliationError(err)
	return ok && reconErr.Category == category
}

// AsReconciliationError extracts a ReconciliationError from an error chain
func AsReconciliationError(err error) (*ReconciliationError, bool) {
	var reconErr *ReconciliationError
	if errors.As(err, &reconErr) {
		return reconErr, true
	}
	return nil, false
}

// WrapIfNeeded wraps an error if it's not already a ReconciliationError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *ReconciliationError {
	if err == nil {
		return nil
	}

	if reconErr, ok := AsReconciliationError(err); ok {
		return reconErr
	}

	return Wrap(err, category, code, message)
}

// ErrorSummary provides a summary of multiple record-level errors
type ErrorSummary struct {
	Total      int                    `json:"total"`
	ByCategory map[ErrorCategory]int  `json:"by_category"`
	Errors     []*ReconciliationError `json:"errors"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*ReconciliationError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		Errors:     errs,
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
	}

	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}

	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var categories []string
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}
