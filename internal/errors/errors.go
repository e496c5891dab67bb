// Package errors provides structured error types for polyquery.
// All errors include a category, code, message, and retryable flag, and
// name the store, entity or field they concern so callers can explain
// exactly which part of a request could not be served.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategorySchema     ErrorCategory = "SCHEMA"
	ErrCategoryPlanning   ErrorCategory = "PLANNING"
	ErrCategoryExecution  ErrorCategory = "EXECUTION"
	ErrCategoryStatistics ErrorCategory = "STATISTICS"
	ErrCategoryConfig     ErrorCategory = "CONFIG"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Schema codes
	CodeSchemaDiscoveryFailed = "SCHEMA_DISCOVERY_FAILED"
	CodeUnknownEntity         = "UNKNOWN_ENTITY"

	// Planning codes
	CodeUnresolvableField  = "UNRESOLVABLE_FIELD"
	CodeEmptyFilter        = "EMPTY_FILTER"
	CodeInvalidFilterValue = "INVALID_FILTER_VALUE"
	CodeNoCoveringEntity   = "NO_COVERING_ENTITY"
	CodeNoSharedKey        = "NO_SHARED_KEY"
	CodeTooManyStores      = "TOO_MANY_STORES"

	// Execution codes
	CodeJoinExecutionFailed   = "JOIN_EXECUTION_FAILED"
	CodeStoreExecutionFailed  = "STORE_EXECUTION_FAILED"
	CodeConnectionUnavailable = "CONNECTION_UNAVAILABLE"
	CodeExecutionTimeout      = "EXECUTION_TIMEOUT"
	CodeUnknownStore          = "UNKNOWN_STORE"

	// Statistics codes
	CodeInsufficientSamples = "INSUFFICIENT_SAMPLES"
	CodeInvalidTrials       = "INVALID_TRIALS"

	// Config codes
	CodeInvalidConfig = "INVALID_CONFIG"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// Sentinels for errors.Is checks. Matching is by category and code.
var (
	ErrSchemaDiscovery     = &Error{Category: ErrCategorySchema, Code: CodeSchemaDiscoveryFailed}
	ErrUnknownEntity       = &Error{Category: ErrCategorySchema, Code: CodeUnknownEntity}
	ErrUnresolvableField   = &Error{Category: ErrCategoryPlanning, Code: CodeUnresolvableField}
	ErrJoinExecution       = &Error{Category: ErrCategoryExecution, Code: CodeJoinExecutionFailed}
	ErrInsufficientSamples = &Error{Category: ErrCategoryStatistics, Code: CodeInsufficientSamples}
)

// Error is the structured error type used throughout the system.
type Error struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Store     string
	Entity    string
	Field     string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s:%s] %s", e.Category, e.Code, e.Message)
	if s := e.subject(); s != "" {
		fmt.Fprintf(&b, " (%s)", s)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *Error) subject() string {
	var parts []string
	if e.Store != "" {
		parts = append(parts, "store="+e.Store)
	}
	if e.Entity != "" {
		parts = append(parts, "entity="+e.Entity)
	}
	if e.Field != "" {
		parts = append(parts, "field="+e.Field)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new Error.
func New(category ErrorCategory, code, message string) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *Error {
	e := New(category, code, message)
	e.Cause = cause
	return e
}

// WithDetails returns a copy of the error with additional details.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// WithStore returns a copy of the error naming the store.
func (e *Error) WithStore(store string) *Error {
	cp := *e
	cp.Store = store
	return &cp
}

// WithEntity returns a copy of the error naming the store and entity.
func (e *Error) WithEntity(store, entity string) *Error {
	cp := *e
	cp.Store = store
	cp.Entity = entity
	return &cp
}

// WithField returns a copy of the error naming the field.
func (e *Error) WithField(field string) *Error {
	cp := *e
	cp.Field = field
	return &cp
}

// As extracts an *Error from an error chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	if e, ok := As(err); ok {
		return e.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not an *Error.
func GetCategory(err error) ErrorCategory {
	if e, ok := As(err); ok {
		return e.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not an *Error.
func GetCode(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

// isRetryable marks connection acquisition failures and timeouts as
// retryable by the caller. Schema and planning errors never are.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryExecution && code == CodeConnectionUnavailable:
		return true
	case category == ErrCategoryExecution && code == CodeExecutionTimeout:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewSchemaDiscoveryError(store string, cause error) *Error {
	e := Wrap(ErrCategorySchema, CodeSchemaDiscoveryFailed,
		fmt.Sprintf("schema discovery failed for store %q", store), cause)
	e.Store = store
	return e
}

func NewUnknownEntityError(store, entity string) *Error {
	e := New(ErrCategorySchema, CodeUnknownEntity,
		fmt.Sprintf("entity %q not found in store %q", entity, store))
	e.Store = store
	e.Entity = entity
	return e
}

func NewUnresolvableFieldError(field string) *Error {
	e := New(ErrCategoryPlanning, CodeUnresolvableField,
		fmt.Sprintf("field %q exists in no configured store", field))
	e.Field = field
	return e
}

func NewPlanningError(code, message string) *Error {
	return New(ErrCategoryPlanning, code, message)
}

func NewJoinExecutionError(store, entity string, cause error) *Error {
	e := Wrap(ErrCategoryExecution, CodeJoinExecutionFailed,
		fmt.Sprintf("join leg on %s.%s failed", store, entity), cause)
	e.Store = store
	e.Entity = entity
	return e
}

// NewExecutionError classifies a store-level failure. Connection and
// timeout failures get their own retryable codes.
func NewExecutionError(code, store, entity string, cause error) *Error {
	e := Wrap(ErrCategoryExecution, code,
		fmt.Sprintf("execution on %s.%s failed", store, entity), cause)
	e.Store = store
	e.Entity = entity
	return e
}

func NewInsufficientSamplesError(side string, attempted int) *Error {
	e := New(ErrCategoryStatistics, CodeInsufficientSamples,
		fmt.Sprintf("no successful %s samples out of %d", side, attempted))
	return e.WithDetails(map[string]interface{}{"side": side, "attempted": attempted})
}

func NewConfigError(message string) *Error {
	return New(ErrCategoryConfig, CodeInvalidConfig, message)
}

func NewInternalError(message string, cause error) *Error {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
