// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package orchestrator drives the four top-level array I/O operations
// (bit-pattern analysis, size statistics, bit-rounding rewrite, and
// raw-chunk concatenation) against the abstract Container Reader/Writer
// contract in internal/ctr.
package orchestrator

import (
	"errors"
	"fmt"
	"log/slog"
)

// Kind classifies an orchestrator error without adding a distinct Go type
// per case, so callers can switch on Kind while %w-wrapping still works.
type Kind int

const (
	InvalidInput Kind = iota
	SchemaMismatch
	InsufficientSamples
	InvalidKeepBits
	UnsupportedType
	ContainerIOError
	MissingValueInChunk
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "InvalidInput"
	case SchemaMismatch:
		return "SchemaMismatch"
	case InsufficientSamples:
		return "InsufficientSamples"
	case InvalidKeepBits:
		return "InvalidKeepBits"
	case UnsupportedType:
		return "UnsupportedType"
	case ContainerIOError:
		return "ContainerIOError"
	case MissingValueInChunk:
		return "MissingValueInChunk"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with a Kind, a variable name (when
// applicable) and a single-line reason, matching the per-variable log line
// format the rewrite and analysis operations print to stderr.
type Error struct {
	K       Kind
	Var     string
	Reason  string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Var != "" {
		return fmt.Sprintf("%s: %s: %s", e.K, e.Var, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.K, e.Reason)
}

func (e *Error) Unwrap() error { return e.Wrapped }

func newErr(k Kind, varName, reason string, wrapped error) *Error {
	return &Error{K: k, Var: varName, Reason: reason, Wrapped: wrapped}
}

// IsFatal reports whether k always terminates the process rather than
// being logged and skipped: InvalidInput and SchemaMismatch are caught
// by upfront validation and abort the whole run, and InvalidKeepBits
// would mean the Keep-Bits Selector produced an out-of-range value,
// which is a programming error rather than a recoverable per-variable
// condition. Every other kind is per-variable and recoverable.
func (k Kind) IsFatal() bool {
	switch k {
	case InvalidInput, SchemaMismatch, InvalidKeepBits:
		return true
	default:
		return false
	}
}

// logSkip reports a per-variable diagnostic: one structured line per
// skipped or warned variable, a short event name as the message and
// key/value pairs after it.
func logSkip(e *Error) {
	if e.Var != "" {
		slog.Warn("skip", "kind", e.K.String(), "var", e.Var, "reason", e.Reason)
	} else {
		slog.Warn("skip", "kind", e.K.String(), "reason", e.Reason)
	}
}

var errFewerThanTwoInputs = errors.New("concat: fewer than two input files")

// writerError marks a Container Writer failure. Writer errors are always
// fatal, unlike Reader failures, which skip the current variable.
type writerError struct{ err error }

func (e *writerError) Error() string { return e.err.Error() }
func (e *writerError) Unwrap() error { return e.err }

// fatalWrite wraps a Writer failure so failVariable propagates it instead
// of skipping; nil passes through untouched.
func fatalWrite(err error) error {
	if err == nil {
		return nil
	}
	return &writerError{err}
}

// failVariable decides what err means for the rest of the run: Writer
// failures and fatal kinds propagate, anything else is logged against
// varName and the run continues with the next variable.
func failVariable(varName string, err error) error {
	var wf *writerError
	if errors.As(err, &wf) {
		return wf.err
	}
	var oe *Error
	if errors.As(err, &oe) {
		if oe.K.IsFatal() {
			return oe
		}
		logSkip(oe)
		return nil
	}
	logSkip(newErr(ContainerIOError, varName, err.Error(), err))
	return nil
}
