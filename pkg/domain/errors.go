package domain

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind classifies failures surfaced to callers.
type FailureKind string

// Failure kinds shared by the request path and the background monitor.
const (
	KindNone                FailureKind = ""
	KindNotFound            FailureKind = "not_found"
	KindConflict            FailureKind = "conflict"
	KindInvalid             FailureKind = "invalid"
	KindInvalidTransition   FailureKind = "invalid_transition"
	KindUnauthorized        FailureKind = "unauthorized"
	KindForbidden           FailureKind = "forbidden"
	KindUpstreamUnavailable FailureKind = "upstream_unavailable"
	KindTimeout             FailureKind = "timeout"
	KindGenerationFailure   FailureKind = "generation_failure"
	KindInternal            FailureKind = "internal"
)

// ErrNotFound indicates the requested record does not exist.
type ErrNotFound struct {
	Entity string
	ID     string
}

func (e ErrNotFound) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// Kind implements the classifier contract used by KindOf.
func (e ErrNotFound) Kind() FailureKind { return KindNotFound }

// Error wraps an underlying error with a failure kind and the operation that failed.
type Error struct {
	Kind FailureKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return string(e.Kind)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Op == "":
		return e.Err.Error()
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error of the given kind.
func Errorf(kind FailureKind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a kind to err. A nil err stays nil.
func Wrap(kind FailureKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// ErrDuplicate is returned by stores when inserting an existing chip identifier.
var ErrDuplicate = &Error{Kind: KindConflict, Op: "insert sample", Err: errors.New("chip_id already registered")}

// KindOf classifies err. Unclassified errors are internal; context deadline
// errors are timeouts.
func KindOf(err error) FailureKind {
	if err == nil {
		return KindNone
	}
	var e *Error
	if errors.As(err, &e) && e.Kind != KindNone {
		return e.Kind
	}
	var nf ErrNotFound
	if errors.As(err, &nf) {
		return KindNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// IsKind reports whether err classifies as kind.
func IsKind(err error, kind FailureKind) bool { return KindOf(err) == kind }
