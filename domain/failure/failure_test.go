package failure_test

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/artpar/billmeter/domain/failure"
)

func TestError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *failure.Error
		want string
	}{
		{"kind only", &failure.Error{Kind: failure.EmptyResult}, "EMPTY_RESULT"},
		{"with message", failure.New(failure.InvalidData, "name is required"), "INVALID_DATA: name is required"},
		{"with cause", failure.Wrap(failure.QueryFailed, sql.ErrConnDone, ""), "QUERY_FAILED: " + sql.ErrConnDone.Error()},
		{"message and cause", failure.Wrap(failure.TransactionFailed, sql.ErrTxDone, "add SDK_CALL"), "TRANSACTION_FAILED: add SDK_CALL: " + sql.ErrTxDone.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKindOf_ThroughWrapping(t *testing.T) {
	inner := failure.New(failure.ConstraintViolation, "api_keys.name")
	err := fmt.Errorf("insert api key: %w", inner)

	if got := failure.KindOf(err); got != failure.ConstraintViolation {
		t.Errorf("KindOf = %q, want %q", got, failure.ConstraintViolation)
	}
	if !failure.Has(err, failure.ConstraintViolation) {
		t.Error("Has(ConstraintViolation) = false, want true")
	}
	if failure.Has(err, failure.InvalidData) {
		t.Error("Has(InvalidData) = true, want false")
	}
	if failure.KindOf(errors.New("plain")) != "" {
		t.Error("KindOf(plain error) should be empty")
	}
}

func TestBoundary(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		if err := failure.Boundary(nil, "x"); err != nil {
			t.Errorf("Boundary(nil) = %v, want nil", err)
		}
	})

	t.Run("recognized errors are not double wrapped", func(t *testing.T) {
		orig := failure.New(failure.InvalidTimestamp, "empty timestamp")
		got := failure.Boundary(fmt.Errorf("step: %w", orig), "add")
		if failure.KindOf(got) != failure.InvalidTimestamp {
			t.Errorf("KindOf = %q, want %q", failure.KindOf(got), failure.InvalidTimestamp)
		}
		if failure.Has(got, failure.TransactionFailed) {
			t.Error("recognized error was wrapped as TRANSACTION_FAILED")
		}
	})

	t.Run("unclassified errors become TRANSACTION_FAILED", func(t *testing.T) {
		cause := errors.New("connection reset")
		got := failure.Boundary(cause, "add PAYMENT")
		if failure.KindOf(got) != failure.TransactionFailed {
			t.Errorf("KindOf = %q, want %q", failure.KindOf(got), failure.TransactionFailed)
		}
		if !errors.Is(got, cause) {
			t.Error("cause not preserved")
		}
	})
}

func TestPrefix(t *testing.T) {
	cause := errors.New("bad json")
	err := failure.Prefix(failure.Wrap(failure.InvalidData, cause, "malformed data"), "events[2]")

	if got, want := err.Error(), "INVALID_DATA: events[2]: malformed data: bad json"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, cause) {
		t.Error("Prefix should keep the original cause")
	}

	plain := failure.Prefix(cause, "events[0]")
	if failure.Recognized(plain) {
		t.Error("Prefix should not classify a plain error")
	}
	if !errors.Is(plain, cause) {
		t.Error("Prefix should wrap a plain error")
	}
}
