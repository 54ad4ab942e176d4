package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestQuarryError_Error(t *testing.T) {
	err := New(ErrCategorySchema, CodeSchemaMismatch, "column count differs")
	expected := "[SCHEMA:SCHEMA_MISMATCH] column count differs"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestQuarryError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(ErrCategoryStorage, CodeDownloadFailed, "download failed", cause)
	expected := "[STORAGE:DOWNLOAD_FAILED] download failed: connection refused"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestQuarryError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Wrap(ErrCategoryStorage, CodeCorruptSegment, "bad block", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestQuarryError_Is(t *testing.T) {
	err1 := New(ErrCategoryExpression, CodeTypeMismatch, "first")
	err2 := New(ErrCategoryExpression, CodeTypeMismatch, "second")
	err3 := New(ErrCategoryExpression, CodeDivideByZero, "different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}

	wrapped := fmt.Errorf("filter: %w", err1)
	if !errors.Is(wrapped, err2) {
		t.Error("Is should see through fmt.Errorf wrapping")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{ErrCategoryStorage, CodeDownloadFailed, true},
		{ErrCategoryStorage, CodeObjectNotFound, false},
		{ErrCategoryStorage, CodeCorruptSegment, false},
		{ErrCategorySchema, CodeSchemaMismatch, false},
		{ErrCategoryExpression, CodeDivideByZero, false},
		{ErrCategoryExecution, CodeGroupKeyOverflow, false},
		{ErrCategoryInternal, CodeUnexpected, false},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if IsRetryable(err) != tt.retryable {
			t.Errorf("%s:%s retryable=%v, want %v", tt.category, tt.code, IsRetryable(err), tt.retryable)
		}
	}
}

func TestGetCategoryAndCode(t *testing.T) {
	err := fmt.Errorf("exec: %w", ColumnNotFound("l_tax"))
	if GetCategory(err) != ErrCategorySchema {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategorySchema)
	}
	if GetCode(err) != CodeColumnNotFound {
		t.Errorf("got %q, want %q", GetCode(err), CodeColumnNotFound)
	}
	if GetDetails(err)["column"] != "l_tax" {
		t.Errorf("details should carry the column name, got %v", GetDetails(err))
	}
	if GetCategory(fmt.Errorf("plain error")) != "" {
		t.Error("non-QuarryError should return empty category")
	}
	if GetCode(fmt.Errorf("plain error")) != "" {
		t.Error("non-QuarryError should return empty code")
	}
}

func TestWithDetails(t *testing.T) {
	err := New(ErrCategorySchema, CodeSchemaMismatch, "bad schema").
		WithDetails(map[string]interface{}{"expected": 3})
	detailed := err.WithDetails(map[string]interface{}{"actual": 2})

	if detailed.Details["expected"] != 3 || detailed.Details["actual"] != 2 {
		t.Errorf("WithDetails should merge details, got %v", detailed.Details)
	}
	if _, ok := err.Details["actual"]; ok {
		t.Error("WithDetails should not modify original")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	cause := fmt.Errorf("io error")

	if e := NewSchemaError(CodeDuplicateColumn, "dup"); e.Category != ErrCategorySchema {
		t.Error("NewSchemaError mismatch")
	}
	if e := TypeMismatch("cannot add %s to %s", "Utf8", "Date"); e.Code != CodeTypeMismatch || e.Message != "cannot add Utf8 to Date" {
		t.Errorf("TypeMismatch mismatch: %v", e)
	}
	if e := NewExecutionError(CodeGroupKeyOverflow, "too many"); e.Category != ErrCategoryExecution {
		t.Error("NewExecutionError mismatch")
	}
	if s := NewStorageError(CodeDownloadFailed, "s3 down", cause); !errors.Is(s, cause) || !s.Retryable {
		t.Error("NewStorageError mismatch")
	}
	if c := NewConfigError("bad"); c.Code != CodeInvalidConfig {
		t.Error("NewConfigError mismatch")
	}
	if i := NewInternalError("bug", cause); i.Code != CodeUnexpected || !errors.Is(i, cause) {
		t.Error("NewInternalError mismatch")
	}
}
