// errors.go - error kinds for the document-store query engine

package kvdoc

import (
	"errors"
	"fmt"
)

// Kind classifies the errors the engine raises, mirroring the teacher's
// QueryError/ErrNotFound sentinel pattern but made errors.Is-safe.
type Kind int

const (
	// KindInvalidInput covers malformed documents, filters, updates or
	// index options supplied by the caller.
	KindInvalidInput Kind = iota
	// KindDuplicateKey covers primary-key or unique-index violations.
	KindDuplicateKey
	// KindConcurrentModification covers atomic-batch version-check failures.
	KindConcurrentModification
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "InvalidInput"
	case KindDuplicateKey:
		return "DuplicateKey"
	case KindConcurrentModification:
		return "ConcurrentModification"
	default:
		return "Unknown"
	}
}

// Error is the categorized error type raised by engine operations.
type Error struct {
	Kind  Kind
	Field string // populated for KindDuplicateKey
	msg   string
	err   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field %q)", e.Kind, e.msg, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error { return e.err }

// Is allows errors.Is(err, ErrInvalidInput) style comparisons against the
// three exported sentinels below.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// Sentinels usable with errors.Is to classify an error's kind without
// inspecting its message.
var (
	ErrInvalidInput          = &Error{Kind: KindInvalidInput, msg: "invalid input"}
	ErrDuplicateKey          = &Error{Kind: KindDuplicateKey, msg: "duplicate key"}
	ErrConcurrentModification = &Error{Kind: KindConcurrentModification, msg: "concurrent modification"}
)

// ErrNotFound mirrors the teacher's ErrNotFound sentinel; NotFound is
// explicitly not an error for updateOne/deleteOne (spec §7), but Query.One
// and Apply still need a way to signal "nothing matched".
var ErrNotFound = errors.New("kvdoc: not found")

func invalidInput(format string, args ...interface{}) error {
	return &Error{Kind: KindInvalidInput, msg: fmt.Sprintf(format, args...)}
}

func duplicateKey(field string) error {
	return &Error{Kind: KindDuplicateKey, Field: field, msg: "an index entry already exists for this value"}
}

func concurrentModification(reason string) error {
	return &Error{Kind: KindConcurrentModification, msg: reason}
}

// WriteError pairs an input index with the categorized error produced for
// it, used by insertMany/updateMany/bulk to report partial failures.
type WriteError struct {
	Index int
	Err   error
}

func (w WriteError) Error() string {
	return fmt.Sprintf("index %d: %v", w.Index, w.Err)
}

// WriteErrors aggregates zero or more WriteError values, mirroring the
// teacher's BulkError/BulkErrorCase shape (legacy_types.go) generalized to
// any multi-document operation.
type WriteErrors struct {
	Errors []WriteError
}

func (w *WriteErrors) Error() string {
	if len(w.Errors) == 0 {
		return "no write errors"
	}
	if len(w.Errors) == 1 {
		return w.Errors[0].Error()
	}
	msg := fmt.Sprintf("%d write errors, first: %v", len(w.Errors), w.Errors[0])
	return msg
}

func (w *WriteErrors) add(index int, err error) {
	w.Errors = append(w.Errors, WriteError{Index: index, Err: err})
}

func (w *WriteErrors) any() bool { return len(w.Errors) > 0 }
