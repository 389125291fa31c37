// Package faults classifies pipeline failures so recovery is decided on kinds, not message text.
package faults

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the recovery class of a failure
type Kind int

const (
	// KindItemFatal aborts the current item; the worker and its session continue.
	KindItemFatal Kind = iota
	// KindUIDrift is a single selector candidate missing. Callers absorb it by trying the next candidate.
	KindUIDrift
	// KindNotFound means the submission is not yet visible in the list view.
	KindNotFound
	// KindNotReady means the reports exist remotely but could not be obtained yet.
	KindNotReady
	// KindSessionFatal means the browser or page handle is unusable; the session must be rebuilt.
	KindSessionFatal
	// KindPartialArtifact means one report type is missing while the other was delivered.
	KindPartialArtifact
	// KindCancelled means the context ended the work.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindItemFatal:
		return "item_fatal"
	case KindUIDrift:
		return "ui_drift"
	case KindNotFound:
		return "not_found"
	case KindNotReady:
		return "not_ready"
	case KindSessionFatal:
		return "session_fatal"
	case KindPartialArtifact:
		return "partial_artifact"
	case KindCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a classified failure. Op names the step, Msg is safe to show a requester.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error
func New(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

func ItemFatal(op, msg string, err error) error    { return New(KindItemFatal, op, msg, err) }
func UIDrift(op, msg string, err error) error      { return New(KindUIDrift, op, msg, err) }
func NotFound(op, msg string, err error) error     { return New(KindNotFound, op, msg, err) }
func NotReady(op, msg string, err error) error     { return New(KindNotReady, op, msg, err) }
func SessionFatal(op, msg string, err error) error { return New(KindSessionFatal, op, msg, err) }
func Partial(op, msg string, err error) error      { return New(KindPartialArtifact, op, msg, err) }

// KindOf returns the outermost classified kind in err's chain.
// context.Canceled is KindCancelled; anything unclassified is KindItemFatal.
func KindOf(err error) Kind {
	if err == nil {
		return KindItemFatal
	}
	var fe *Error
	if errors.As(err, &fe) {
		// A session failure anywhere in the chain wins, so wrappers cannot hide it
		if fe.Kind != KindSessionFatal && IsSessionFatal(fe.Err) {
			return KindSessionFatal
		}
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindItemFatal
}

// IsSessionFatal reports whether any error in the chain is KindSessionFatal
func IsSessionFatal(err error) bool {
	for err != nil {
		var fe *Error
		if !errors.As(err, &fe) {
			return false
		}
		if fe.Kind == KindSessionFatal {
			return true
		}
		err = fe.Err
	}
	return false
}

// IsRetryable reports failures the requester should simply retry later
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindNotFound, KindNotReady:
		return true
	default:
		return false
	}
}

// UserMessage renders a requester-facing message for err
func UserMessage(err error) string {
	var fe *Error
	msg := ""
	if errors.As(err, &fe) {
		msg = fe.Msg
	}

	switch KindOf(err) {
	case KindNotFound:
		return "Document not found yet. Please try again later."
	case KindNotReady:
		return "Reports not ready yet. Your submission is safe, please try again in a few minutes."
	case KindSessionFatal:
		return "The checking service connection was lost. Please submit your document again."
	case KindCancelled:
		return "Processing was interrupted by a service restart. Please submit your document again."
	case KindPartialArtifact:
		if msg != "" {
			return msg
		}
		return "Some reports could not be retrieved."
	default:
		if msg != "" {
			return "Processing failed: " + msg
		}
		return "Processing failed. Please try again later."
	}
}
