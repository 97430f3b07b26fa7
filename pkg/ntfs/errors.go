package ntfs

import (
	"errors"
	"fmt"

	"github.com/marmos91/dittofs-ntfs/pkg/mft"
)

// FileError represents a domain error from file operations.
//
// These are contract errors (attribute not found, invalid state, capacity
// exhausted) as opposed to infrastructure errors (device or table I/O), which
// are wrapped and propagated unchanged.
type FileError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Ref is the file the error relates to (zero if not applicable)
	Ref mft.FileReference

	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface.
func (e *FileError) Error() string {
	msg := e.Message
	if !e.Ref.IsZero() {
		msg = fmt.Sprintf("%s: file %s", msg, e.Ref)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *FileError) Unwrap() error {
	return e.Err
}

// ErrorCode represents the category of a file error.
type ErrorCode int

const (
	// ErrNotFound indicates a requested attribute, name or record does not exist
	ErrNotFound ErrorCode = iota

	// ErrInvalidState indicates a contract violation: converting an attribute
	// to the residency it already has, deleting a linked file
	ErrInvalidState

	// ErrNotSupported indicates an unimplemented capability, most notably a
	// base record that cannot be packed without spanning multiple records
	ErrNotSupported

	// ErrInvalidArgument indicates invalid parameters were provided
	ErrInvalidArgument

	// ErrCorrupt indicates on-disk structures failed to decode
	ErrCorrupt

	// ErrAlreadyExists indicates an index key or object id is already present
	ErrAlreadyExists
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "not found"
	case ErrInvalidState:
		return "invalid state"
	case ErrNotSupported:
		return "not supported"
	case ErrInvalidArgument:
		return "invalid argument"
	case ErrCorrupt:
		return "corrupt"
	case ErrAlreadyExists:
		return "already exists"
	default:
		return "unknown"
	}
}

func newError(code ErrorCode, ref mft.FileReference, format string, args ...any) *FileError {
	return &FileError{Code: code, Message: fmt.Sprintf(format, args...), Ref: ref}
}

func corruptError(ref mft.FileReference, err error, format string, args ...any) *FileError {
	return &FileError{Code: ErrCorrupt, Message: fmt.Sprintf(format, args...), Ref: ref, Err: err}
}

// ErrorCodeOf returns the code of a FileError in err's chain.
func ErrorCodeOf(err error) (ErrorCode, bool) {
	var fe *FileError
	if errors.As(err, &fe) {
		return fe.Code, true
	}
	return 0, false
}

func hasCode(err error, code ErrorCode) bool {
	c, ok := ErrorCodeOf(err)
	return ok && c == code
}

// IsNotFound reports whether err is a not-found file error.
func IsNotFound(err error) bool {
	return hasCode(err, ErrNotFound)
}

// IsInvalidState reports whether err is an invalid-state file error.
func IsInvalidState(err error) bool {
	return hasCode(err, ErrInvalidState)
}

// IsAlreadyExists reports whether err is an already-exists file error.
func IsAlreadyExists(err error) bool {
	return hasCode(err, ErrAlreadyExists)
}

// IsNotSupported reports whether err is a not-supported file error.
func IsNotSupported(err error) bool {
	return hasCode(err, ErrNotSupported)
}
