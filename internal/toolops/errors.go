// Package toolops implements the nine tool-operation verbs (component L):
// connect, context, read_file, write_file, submit, session_status,
// list_files, verify_prepare/verify_finalize, and merge. Each verb is one
// transaction composed from the session workspace, session graph, conflict
// analyzer, merge engine, changeset store, and event bus.
package toolops

import "errors"

// ErrorKind classifies a verb failure by how the caller must react, per
// §7's error handling design. It is carried alongside the Go error so the
// boundary that talks to the calling agent can pick a response shape
// without re-deriving it from error string matching.
type ErrorKind string

// Error kinds.
const (
	KindNotFound     ErrorKind = "not_found"
	KindInvalidInput ErrorKind = "invalid_input"
	KindConflict     ErrorKind = "conflict"
	KindTransient    ErrorKind = "transient"
	KindParse        ErrorKind = "parse"
	KindTimeout      ErrorKind = "timeout"
	KindFatal        ErrorKind = "fatal"
)

// VerbError wraps an error with the kind that determines retry policy.
type VerbError struct {
	Kind ErrorKind
	Err  error
}

func (e *VerbError) Error() string {
	return e.Err.Error()
}

func (e *VerbError) Unwrap() error {
	return e.Err
}

// wrap builds a VerbError of the given kind. A nil err yields a nil
// *VerbError so call sites can `return wrap(Kind, err)` unconditionally
// inside a guard.
func wrap(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}

	return &VerbError{Kind: kind, Err: err}
}

// AsVerbError extracts the kind and underlying error, defaulting to
// KindFatal for errors that never passed through wrap — an unreachable
// invariant the caller should treat conservatively.
func AsVerbError(err error) (ErrorKind, error) {
	var ve *VerbError
	if errors.As(err, &ve) {
		return ve.Kind, ve.Err
	}

	return KindFatal, err
}
