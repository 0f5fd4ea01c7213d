package vfs

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the VFS matches exactly one of these
// through errors.Is, in addition to whatever cause it wraps.
var (
	ErrMountNotFound     = errors.New("no mountpoint found for path")
	ErrReadOnly          = errors.New("mountpoint is read-only")
	ErrFileExists        = errors.New("file already exists")
	ErrNotSupported      = errors.New("operation not supported")
	ErrBackendFailure    = errors.New("backend failure")
	ErrConversionFailure = errors.New("data conversion failed")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// Errors transports use to describe backend state. They are classified as
// ErrBackendFailure by the Façade but stay reachable through errors.Is.
var (
	ErrNotExist      = errors.New("file does not exist")
	ErrNotDir        = errors.New("not a directory")
	ErrIsDir         = errors.New("is a directory")
	ErrNotEmpty      = errors.New("directory not empty")
	ErrMountExists   = errors.New("mountpoint already exists")
	ErrTooLarge      = fmt.Errorf("%w: file exceeds maximum upload size", ErrInvalidArgument)
	ErrNotMounted    = errors.New("mountpoint is not mounted")
	ErrNotAuthorized = errors.New("transport is not authorized")
)

// PathError records an error and the operation and file path that caused it.
// Transports return it; the Façade wraps it in an OpError.
type PathError struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface
func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *PathError) Unwrap() error {
	return e.Err
}

// NewPathError is shorthand for &PathError{Op: op, Path: path, Err: err}.
func NewPathError(op, path string, err error) error {
	return &PathError{Op: op, Path: path, Err: err}
}

// OpError is the error returned by every VFS operation. Its message names
// the operation that failed; Kind is one of the taxonomy sentinels above and
// Err is the preserved cause.
type OpError struct {
	Op   string
	Path string
	Kind error
	Err  error
}

// Error implements the error interface
func (e *OpError) Error() string {
	if e.Err == nil || e.Err == e.Kind {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *OpError) Unwrap() []error {
	if e.Err == nil || e.Err == e.Kind {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

var kinds = []error{
	ErrMountNotFound,
	ErrReadOnly,
	ErrFileExists,
	ErrNotSupported,
	ErrConversionFailure,
	ErrInvalidArgument,
	ErrBackendFailure,
}

// kindOf maps any error onto the taxonomy. Unknown causes are backend
// failures.
func kindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrBackendFailure
}

// wrapOp turns err into an *OpError for op. An existing OpError is returned
// unchanged so nested operations keep the innermost message.
func wrapOp(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var oe *OpError
	if errors.As(err, &oe) {
		return err
	}
	return &OpError{Op: op, Path: path, Kind: kindOf(err), Err: err}
}

// IsMountNotFound reports whether err was caused by an unresolvable path
func IsMountNotFound(err error) bool {
	return errors.Is(err, ErrMountNotFound)
}

// IsReadOnly reports whether err was caused by a write to a read-only mount
func IsReadOnly(err error) bool {
	return errors.Is(err, ErrReadOnly)
}

// IsExist reports whether err was caused by a destination collision
func IsExist(err error) bool {
	return errors.Is(err, ErrFileExists)
}

// IsNotExist reports whether err indicates that a file does not exist
func IsNotExist(err error) bool {
	return errors.Is(err, ErrNotExist)
}

// IsNotSupported reports whether the transport lacks the capability
func IsNotSupported(err error) bool {
	return errors.Is(err, ErrNotSupported)
}

// IsCanceled reports whether err came from a cancelled or expired context
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
