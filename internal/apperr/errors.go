// Package apperr defines the error kinds surfaced by mediarag operations.
//
// Every failure that crosses a package boundary is an *Error carrying a Kind,
// the operation that failed and, where relevant, the collection it was scoped
// to. Callers branch on the kind with errors.Is against the sentinels below or
// with KindOf.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a short machine-checkable error classification.
type Kind string

// Error kinds.
const (
	KindInvalidInput         Kind = "InvalidInput"
	KindInvalidParameter     Kind = "InvalidParameter"
	KindDimensionMismatch    Kind = "DimensionMismatch"
	KindConfirmationRequired Kind = "ConfirmationRequired"
	KindProvider             Kind = "ProviderError"
	KindStore                Kind = "StoreError"
	KindStoreUnavailable     Kind = "StoreUnavailable"
	KindAllSourcesFailed     Kind = "AllSourcesFailed"
	KindInternal             Kind = "Internal"
)

// Sentinels, one per kind. An *Error matches the sentinel of its kind.
var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidParameter     = errors.New("invalid parameter")
	ErrDimensionMismatch    = errors.New("dimension mismatch")
	ErrConfirmationRequired = errors.New("confirmation required")
	ErrProvider             = errors.New("provider error")
	ErrStore                = errors.New("store error")
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrAllSourcesFailed     = errors.New("all sources failed")
)

var sentinels = map[Kind]error{
	KindInvalidInput:         ErrInvalidInput,
	KindInvalidParameter:     ErrInvalidParameter,
	KindDimensionMismatch:    ErrDimensionMismatch,
	KindConfirmationRequired: ErrConfirmationRequired,
	KindProvider:             ErrProvider,
	KindStore:                ErrStore,
	KindStoreUnavailable:     ErrStoreUnavailable,
	KindAllSourcesFailed:     ErrAllSourcesFailed,
}

// Error is the structured error returned by mediarag operations.
type Error struct {
	Kind       Kind
	Op         string // operation, e.g. "vectorstore.Search"
	Collection string // empty when not collection scoped
	Message    string // human-readable, safe to show to callers
	Err        error  // upstream cause, may be nil
}

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		if e.Collection != "" {
			b.WriteString("[" + e.Collection + "]")
		}
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil && (e.Message == "" || !strings.Contains(e.Message, e.Err.Error())) {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the upstream cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// Detail returns the upstream message, if any.
func (e *Error) Detail() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// New creates an error of the given kind.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with kind and operation context. The upstream message is
// passed through as the human-readable message.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: err.Error(), Err: err}
}

// WithCollection returns a copy of e scoped to collection.
func (e *Error) WithCollection(collection string) *Error {
	c := *e
	c.Collection = collection
	return &c
}

// InvalidInput reports malformed or empty caller input.
func InvalidInput(op, format string, args ...any) *Error {
	return New(KindInvalidInput, op, format, args...)
}

// InvalidParameter reports an out-of-range numeric parameter.
func InvalidParameter(op, format string, args ...any) *Error {
	return New(KindInvalidParameter, op, format, args...)
}

// DimensionMismatch reports vectors whose lengths disagree.
func DimensionMismatch(op string, want, got int) *Error {
	return New(KindDimensionMismatch, op, "vector length %d does not match %d", got, want)
}

// ConfirmationRequired reports a destructive operation missing explicit confirmation.
func ConfirmationRequired(op, collection string) *Error {
	e := New(KindConfirmationRequired, op, "deleting all documents in %q requires explicit confirmation", collection)
	e.Collection = collection
	return e
}

// Provider wraps an upstream embedding or completion failure.
func Provider(op string, err error) *Error {
	return Wrap(KindProvider, op, err)
}

// Store wraps a datastore failure for collection.
func Store(op, collection string, err error) *Error {
	e := Wrap(KindStore, op, err)
	if e != nil {
		e.Collection = collection
	}
	return e
}

// StoreUnavailable reports a missing server-side function, index or collection.
// guidance must tell the operator how to fix the setup.
func StoreUnavailable(op, collection, guidance string, err error) *Error {
	return &Error{Kind: KindStoreUnavailable, Op: op, Collection: collection, Message: guidance, Err: err}
}

// KindOf returns the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As returns err as an *Error when it is one.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
