package types

import (
	"errors"
	"fmt"
)

// Kind classifies a sync or execution failure.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindConflict
	KindTransport
	KindIO
	KindExitStatus
)

var kindNames = map[Kind]string{
	KindNotFound:   "not found",
	KindConflict:   "conflict",
	KindTransport:  "transport",
	KindIO:         "io",
	KindExitStatus: "exit status",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Error implements the error interface so a bare Kind can be used as an
// errors.Is target.
func (k Kind) Error() string { return k.String() }

// Sentinels for errors.Is.
var (
	ErrNotFound   error = KindNotFound
	ErrConflict   error = KindConflict
	ErrTransport  error = KindTransport
	ErrIO         error = KindIO
	ErrExitStatus error = KindExitStatus
)

// Error carries the kind and the offending path of a failure.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Path != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Path)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a bare Kind target.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// NewError wraps err with kind and path. A nil err yields a message-only error.
func NewError(kind Kind, path string, err error) *Error {
	return &Error{Kind: kind, Path: path, Err: err}
}

// Conflictf reports an expected directory that is something else.
func Conflictf(path, format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Path: path, Err: fmt.Errorf(format, args...)}
}

// ExitStatusError is returned when a remote script exits nonzero.
type ExitStatusError struct {
	Status int
	Signal string
}

func (e *ExitStatusError) Error() string {
	if e.Signal != "" {
		return fmt.Sprintf("remote script terminated by signal %s", e.Signal)
	}
	return fmt.Sprintf("remote script exited with status %d", e.Status)
}

func (e *ExitStatusError) Is(target error) bool { return target == ErrExitStatus }

// KindOf returns the kind of err, or 0 when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrExitStatus) {
		return KindExitStatus
	}
	return 0
}
