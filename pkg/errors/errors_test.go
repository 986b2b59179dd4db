package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceUnavailableError(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := SourceUnavailableError("DECLARED", "http://payroll/api/payslips", cause)

	assert.Equal(t, CategorySource, err.Category)
	assert.Equal(t, CodeSourceUnavailable, err.Code)
	assert.True(t, IsSourceUnavailable(err))
	assert.True(t, err.IsDegradable(), "a failed feed degrades to empty, it does not abort")
	assert.Equal(t, "DECLARED", err.Context["source"])
	assert.ErrorIs(t, err, cause)
}

func TestRecalculationFailedError(t *testing.T) {
	err := RecalculationFailedError("Rossi", fmt.Errorf("502"))

	assert.Equal(t, CategoryRecalculation, err.Category)
	assert.True(t, IsRecalculationFailed(err))
	assert.False(t, err.IsDegradable(), "a failed recalculation must be surfaced, not degraded")
	assert.Contains(t, err.Error(), "Rossi")
}

func TestRepairFailedError(t *testing.T) {
	err := RepairFailedError("all", nil)

	assert.True(t, IsRepairFailed(err))
	assert.False(t, IsRecalculationFailed(err))
	assert.Equal(t, "all", err.Context["scope"])
}

func TestRecordValidationError(t *testing.T) {
	err := RecordValidationError(CodeInvalidAmount, "amount", "abc", nil)

	assert.True(t, IsValidation(err))
	assert.True(t, err.IsDegradable())
	assert.Contains(t, err.Error(), "amount")
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("underlying")
	err := Wrap(cause, CategoryInternal, CodeUnexpectedError, "something broke")

	require.NotNil(t, err)
	assert.ErrorIs(t, err, cause)
	assert.NotEmpty(t, err.StackTrace)
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, CategoryInternal, CodeUnexpectedError, "ignored"))
}

func TestWrapIfNeededKeepsExistingError(t *testing.T) {
	original := RecalculationFailedError("", nil)

	wrapped := WrapIfNeeded(original, CategoryInternal, CodeUnexpectedError, "outer")

	assert.Same(t, original, wrapped, "an existing engine error is passed through")

	plain := WrapIfNeeded(fmt.Errorf("plain"), CategoryInternal, CodeUnexpectedError, "outer")
	assert.Equal(t, CategoryInternal, plain.Category)
}

func TestWrapIfNeededThroughChain(t *testing.T) {
	inner := SourceUnavailableError("CONFIRMED", "http://bank", nil)
	chained := fmt.Errorf("fetch: %w", inner)

	assert.True(t, IsSourceUnavailable(chained), "predicates see through wrapped chains")
}

func TestErrorMessageIncludesSuggestion(t *testing.T) {
	err := New(CategoryConfiguration, CodeInvalidConfig, "bad tolerance").
		WithSuggestion("use a decimal string")

	assert.Contains(t, err.Error(), "bad tolerance")
	assert.Contains(t, err.Error(), "use a decimal string")
}

func TestWithContext(t *testing.T) {
	err := New(CategoryInternal, CodeUnexpectedError, "boom").
		WithContext("operation", "join").
		WithContext("records", 42)

	assert.Equal(t, "join", err.Context["operation"])
	assert.Equal(t, 42, err.Context["records"])
}

func TestErrorSummary(t *testing.T) {
	errs := []*ReconciliationError{
		RecordValidationError(CodeInvalidAmount, "amount", "x", nil),
		RecordValidationError(CodeInvalidPeriod, "date", "y", nil),
		SourceUnavailableError("DECLARED", "", nil),
	}

	summary := NewErrorSummary(errs)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.ByCategory[CategoryValidation])
	assert.Equal(t, 1, summary.ByCategory[CategorySource])
	assert.Contains(t, summary.Error(), "3 errors occurred")
}

func TestErrorSummaryEmpty(t *testing.T) {
	summary := NewErrorSummary(nil)

	assert.Equal(t, 0, summary.Total)
	assert.Equal(t, "no errors", summary.Error())
}

func TestErrorSummarySingle(t *testing.T) {
	summary := NewErrorSummary([]*ReconciliationError{
		New(CategoryRepair, CodeRepairFailed, "repair broke"),
	})

	assert.Equal(t, "repair broke", summary.Error())
}
