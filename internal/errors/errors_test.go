package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := New(ErrCategoryPlanning, CodeEmptyFilter, "no filters")
	expected := "[PLANNING:EMPTY_FILTER] no filters"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NewSchemaDiscoveryError("cassandra", cause)
	expected := `[SCHEMA:SCHEMA_DISCOVERY_FAILED] schema discovery failed for store "cassandra" (store=cassandra): connection refused`
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestError_NamesSubject(t *testing.T) {
	tests := []struct {
		err  *Error
		want []string
	}{
		{NewUnresolvableFieldError("loyalty_tier"), []string{"loyalty_tier", "field=loyalty_tier"}},
		{NewUnknownEntityError("mongo", "customers"), []string{"store=mongo", "entity=customers"}},
		{NewJoinExecutionError("cassandra", "transactions", errors.New("boom")), []string{"cassandra", "transactions", "boom"}},
		{NewInsufficientSamplesError("optimized", 5), []string{"optimized", "5"}},
	}
	for _, tt := range tests {
		msg := tt.err.Error()
		for _, w := range tt.want {
			if !strings.Contains(msg, w) {
				t.Errorf("%q does not mention %q", msg, w)
			}
		}
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := NewJoinExecutionError("mongo", "employees", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestError_Is(t *testing.T) {
	err1 := NewUnresolvableFieldError("a")
	err2 := NewUnresolvableFieldError("b")
	err3 := NewUnknownEntityError("s", "e")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if !errors.Is(err1, ErrUnresolvableField) {
		t.Error("error should match its sentinel")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}

	wrapped := fmt.Errorf("engine: plan: %w", err3)
	if !errors.Is(wrapped, ErrUnknownEntity) {
		t.Error("sentinel match should survive fmt wrapping")
	}

	joined := errors.Join(NewSchemaDiscoveryError("a", nil), NewSchemaDiscoveryError("b", nil))
	if !errors.Is(joined, ErrSchemaDiscovery) {
		t.Error("sentinel match should survive errors.Join")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{ErrCategoryExecution, CodeConnectionUnavailable, true},
		{ErrCategoryExecution, CodeExecutionTimeout, true},
		{ErrCategoryExecution, CodeStoreExecutionFailed, false},
		{ErrCategoryExecution, CodeJoinExecutionFailed, false},
		{ErrCategorySchema, CodeSchemaDiscoveryFailed, false},
		{ErrCategoryPlanning, CodeUnresolvableField, false},
		{ErrCategoryStatistics, CodeInsufficientSamples, false},
		{ErrCategoryInternal, CodeUnexpected, false},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if IsRetryable(err) != tt.retryable {
			t.Errorf("%s:%s retryable=%v, want %v", tt.category, tt.code, IsRetryable(err), tt.retryable)
		}
	}
}

func TestIsRetryable_WrappedError(t *testing.T) {
	inner := NewExecutionError(CodeConnectionUnavailable, "mongo", "employees", errors.New("pool exhausted"))
	wrapped := fmt.Errorf("trial 3: %w", inner)

	if !IsRetryable(wrapped) {
		t.Error("IsRetryable should find retryable error in chain")
	}
}

func TestIsRetryable_PlainError(t *testing.T) {
	err := fmt.Errorf("plain error")
	if IsRetryable(err) {
		t.Error("plain errors should not be retryable")
	}
}

func TestGetCategoryAndCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewConfigError("bad"))
	if GetCategory(err) != ErrCategoryConfig {
		t.Errorf("got category %q", GetCategory(err))
	}
	if GetCode(err) != CodeInvalidConfig {
		t.Errorf("got code %q", GetCode(err))
	}
	if GetCode(errors.New("x")) != "" {
		t.Error("plain errors have no code")
	}
}

func TestWithHelpersCopy(t *testing.T) {
	base := NewPlanningError(CodeNoSharedKey, "no shared key")
	named := base.WithEntity("mongo", "employees").WithField("employee_id")

	if base.Store != "" || base.Field != "" {
		t.Error("With* helpers must not mutate the receiver")
	}
	if named.Store != "mongo" || named.Entity != "employees" || named.Field != "employee_id" {
		t.Errorf("unexpected subject: %+v", named)
	}

	detailed := named.WithDetails(map[string]interface{}{"k": 1})
	if named.Details != nil || detailed.Details["k"] != 1 {
		t.Error("WithDetails must copy")
	}
}
