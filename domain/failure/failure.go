// Package failure defines the typed error kinds returned by the ingest and
// pricing contracts. Callers branch on Kind, never on driver errors.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind string

const (
	InvalidData            Kind = "INVALID_DATA"
	InvalidTimestamp       Kind = "INVALID_TIMESTAMP"
	UserInsertFailed       Kind = "USER_INSERT_FAILED"
	EventInsertFailed      Kind = "EVENT_INSERT_FAILED"
	EmptyResult            Kind = "EMPTY_RESULT"
	ConstraintViolation    Kind = "CONSTRAINT_VIOLATION"
	TransactionFailed      Kind = "TRANSACTION_FAILED"
	UnknownEventType       Kind = "UNKNOWN_EVENT_TYPE"
	QueryFailed            Kind = "QUERY_FAILED"
	PriceCalculationFailed Kind = "PRICE_CALCULATION_FAILED"
	MissingAPIKeyID        Kind = "MISSING_API_KEY_ID"
	SerializationFailed    Kind = "SERIALIZATION_FAILED"
)

// Error is a classified error. Err, when set, is the original cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg == "" && e.Err == nil:
		return string(e.Kind)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Msg == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
}

// Unwrap returns the original cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so that
// errors.Is(err, failure.New(failure.InvalidData, "")) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause as kind.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or "" when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Has reports whether err's chain contains an error of the given kind.
func Has(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
}

// Recognized reports whether err is already classified.
func Recognized(err error) bool {
	return KindOf(err) != ""
}

// Prefix adds context to a classified error's message without nesting a
// second error of the same kind. Unclassified errors are wrapped with %w.
func Prefix(err error, prefix string) error {
	var fe *Error
	if !errors.As(err, &fe) {
		return fmt.Errorf("%s: %w", prefix, err)
	}
	msg := prefix
	if fe.Msg != "" {
		msg += ": " + fe.Msg
	}
	return &Error{Kind: fe.Kind, Msg: msg, Err: fe.Err}
}

// Boundary is applied once at the outermost edge of a transaction:
// classified errors pass through untouched, anything else becomes
// TRANSACTION_FAILED with the cause preserved.
func Boundary(err error, msg string) error {
	if err == nil || Recognized(err) {
		return err
	}
	return Wrap(TransactionFailed, err, msg)
}
