// Package errors provides structured error types for the Quarry execution core.
// All errors include a category, code, message, and retryable flag so the
// driver can surface the first failure with enough context to diagnose it.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategorySchema     ErrorCategory = "SCHEMA"
	ErrCategoryExpression ErrorCategory = "EXPRESSION"
	ErrCategoryExecution  ErrorCategory = "EXECUTION"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryConfig     ErrorCategory = "CONFIG"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Schema codes
	CodeSchemaMismatch  = "SCHEMA_MISMATCH"
	CodeColumnNotFound  = "COLUMN_NOT_FOUND"
	CodeDuplicateColumn = "DUPLICATE_COLUMN"

	// Expression codes
	CodeTypeMismatch    = "TYPE_MISMATCH"
	CodeDivideByZero    = "DIVIDE_BY_ZERO"
	CodeDecimalOverflow = "DECIMAL_OVERFLOW"

	// Execution codes
	CodeGroupKeyOverflow = "GROUP_KEY_OVERFLOW"
	CodeInvalidPlan      = "INVALID_PLAN"

	// Storage codes
	CodeObjectNotFound    = "OBJECT_NOT_FOUND"
	CodeDownloadFailed    = "DOWNLOAD_FAILED"
	CodeCorruptSegment    = "CORRUPT_SEGMENT"
	CodeUnsupportedFormat = "UNSUPPORTED_FORMAT"

	// Config codes
	CodeInvalidConfig = "INVALID_CONFIG"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// QuarryError is the structured error type used throughout the system.
type QuarryError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *QuarryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *QuarryError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *QuarryError) Is(target error) bool {
	var t *QuarryError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new QuarryError.
func New(category ErrorCategory, code, message string) *QuarryError {
	return &QuarryError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Newf creates a new QuarryError with a formatted message.
func Newf(category ErrorCategory, code, format string, args ...interface{}) *QuarryError {
	return New(category, code, fmt.Sprintf(format, args...))
}

// Wrap creates a new QuarryError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *QuarryError {
	return &QuarryError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details merged in.
func (e *QuarryError) WithDetails(details map[string]interface{}) *QuarryError {
	cp := *e
	merged := make(map[string]interface{}, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	cp.Details = merged
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var qe *QuarryError
	if errors.As(err, &qe) {
		return qe.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a QuarryError.
func GetCategory(err error) ErrorCategory {
	var qe *QuarryError
	if errors.As(err, &qe) {
		return qe.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a QuarryError.
func GetCode(err error) string {
	var qe *QuarryError
	if errors.As(err, &qe) {
		return qe.Code
	}
	return ""
}

// GetDetails extracts the details of the outermost QuarryError in the chain.
func GetDetails(err error) map[string]interface{} {
	var qe *QuarryError
	if errors.As(err, &qe) {
		return qe.Details
	}
	return nil
}

// isRetryable reports whether the external caller may retry. The execution
// core itself never retries.
func isRetryable(category ErrorCategory, code string) bool {
	return category == ErrCategoryStorage && code == CodeDownloadFailed
}

// Convenience constructors for common errors.

func NewSchemaError(code, message string) *QuarryError {
	return New(ErrCategorySchema, code, message)
}

func NewExpressionError(code, message string) *QuarryError {
	return New(ErrCategoryExpression, code, message)
}

func NewExecutionError(code, message string) *QuarryError {
	return New(ErrCategoryExecution, code, message)
}

func NewStorageError(code, message string, cause error) *QuarryError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewConfigError(message string) *QuarryError {
	return New(ErrCategoryConfig, CodeInvalidConfig, message)
}

func NewInternalError(message string, cause error) *QuarryError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

// ColumnNotFound is shorthand for the schema lookup failure.
func ColumnNotFound(name string) *QuarryError {
	return NewSchemaError(CodeColumnNotFound, fmt.Sprintf("column %q not found", name)).
		WithDetails(map[string]interface{}{"column": name})
}

// TypeMismatch is shorthand for incompatible operand types.
func TypeMismatch(format string, args ...interface{}) *QuarryError {
	return NewExpressionError(CodeTypeMismatch, fmt.Sprintf(format, args...))
}
