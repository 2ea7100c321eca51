// Package errkit tags errors with the coarse-grained kinds from the
// control plane's error handling design so a composition root can map
// a failure to the right exit code or recovery policy without string
// matching.
package errkit

import (
	"errors"
	"fmt"
)

// Kind is one of the error categories the system distinguishes.
type Kind string

const (
	Config     Kind = "config"
	Trust      Kind = "trust"
	Bus        Kind = "bus"
	Quota      Kind = "quota"
	Capsule    Kind = "capsule"
	Validation Kind = "validation"
	Storage    Kind = "storage"
	Cancelled  Kind = "cancelled"
)

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// Wrap tags err with kind. Wrap(kind, nil) returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// Newf builds a new tagged error from a format string.
func Newf(kind Kind, format string, args ...any) error {
	return &kindError{kind: kind, err: fmt.Errorf(format, args...)}
}

// KindOf returns the tagged kind of err, if any was attached with Wrap
// or Newf anywhere in its chain, and whether one was found.
func KindOf(err error) (Kind, bool) {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind, true
	}
	return "", false
}

// ExitCode maps a kind to a process exit code: fatal
// configuration/trust/connectivity failures exit 2, everything else
// that reaches the process boundary is a bug and exits 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	kind, ok := KindOf(err)
	if !ok {
		return 1
	}
	switch kind {
	case Config, Trust, Bus:
		return 2
	default:
		return 1
	}
}
