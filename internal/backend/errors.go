package backend

import (
	"errors"
	"fmt"

	"github.com/thicket-db/thicket/internal/kcv"
)

// Code categorizes backend failures. Every failure surfaced by this
// package carries exactly one code; past its local bounded retry each is
// non-recoverable at this layer.
type Code string

const (
	// CodeConfiguration: unresolvable or malformed implementation
	// identifier, missing constructor, or instantiation failure.
	CodeConfiguration Code = "CONFIGURATION"

	// CodeCapability: no combination of native and emulated capability
	// satisfies a required guarantee (locking or id allocation).
	CodeCapability Code = "CAPABILITY"

	// CodeStorage: generic backend I/O failure. Transient instances are
	// retried up to the bounded attempt count before promotion to fatal.
	CodeStorage Code = "STORAGE"

	// CodeIncompatibility: the persisted version is neither current nor a
	// recognized compatible predecessor.
	CodeIncompatibility Code = "INCOMPATIBILITY"
)

// Error is the caller-visible failure type of the orchestration core. The
// sub-cause is preserved in Err for diagnostics; the kind callers branch on
// is the Code.
type Error struct {
	Code    Code
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s: %s", e.Code, e.Op, e.Message)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, op, message string, err error) *Error {
	return &Error{Code: code, Op: op, Message: message, Err: err}
}

func configErr(op, message string, err error) *Error {
	return newError(CodeConfiguration, op, message, err)
}

func capabilityErr(op, message string) *Error {
	return newError(CodeCapability, op, message, nil)
}

func storageErr(op, message string, err error) *Error {
	return newError(CodeStorage, op, message, err)
}

func incompatibilityErr(op, message string) *Error {
	return newError(CodeIncompatibility, op, message, nil)
}

func is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsConfiguration reports whether err is a configuration failure.
func IsConfiguration(err error) bool { return is(err, CodeConfiguration) }

// IsCapability reports whether err is a capability failure.
func IsCapability(err error) bool { return is(err, CodeCapability) }

// IsStorage reports whether err is a storage failure.
func IsStorage(err error) bool { return is(err, CodeStorage) }

// IsIncompatible reports whether err is a version incompatibility.
func IsIncompatible(err error) bool { return is(err, CodeIncompatibility) }

// IsTransient reports whether err is a retryable storage failure.
func IsTransient(err error) bool { return kcv.IsTransient(err) }
