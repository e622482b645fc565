package compute

import (
	"errors"
	"fmt"
)

var (
	// ErrNotPrepared is returned by field operations issued before Prepare
	ErrNotPrepared = errors.New("field not prepared")
	// ErrDivideByZero is returned when RMS finalisation has no steps or an all-zero window
	ErrDivideByZero = errors.New("divide by zero")
	// ErrTableTruncated flags a material list longer than the lookup table
	ErrTableTruncated = errors.New("material table truncated")
	// ErrReleased is returned when a released queue or buffer is used
	ErrReleased = errors.New("resource released")
)

// ValidationError reports an invalid user supplied parameter
type ValidationError struct {
	Subject string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Subject, e.Reason)
}

// AllocationError reports a failed device allocation
type AllocationError struct {
	What  string
	Bytes int64
	Err   error
}

func (e *AllocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to allocate %s (%d bytes): %v", e.What, e.Bytes, e.Err)
	}
	return fmt.Sprintf("failed to allocate %s (%d bytes)", e.What, e.Bytes)
}

func (e *AllocationError) Unwrap() error { return e.Err }

// BackendError reports a failure reported by the compute backend. Log holds
// the compiler output for kernel build failures.
type BackendError struct {
	Op  string
	Log string
	Err error
}

func (e *BackendError) Error() string {
	msg := "backend: " + e.Op
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Log != "" {
		msg += "\n" + e.Log
	}
	return msg
}

func (e *BackendError) Unwrap() error { return e.Err }

// MapConflictError reports misuse of a host mapping
type MapConflictError struct {
	Buffer string
	Reason string
}

func (e *MapConflictError) Error() string {
	return fmt.Sprintf("mapping of %s: %s", e.Buffer, e.Reason)
}

// FileIOError reports a failed read or write of a simulation file. Frame is
// the slice or record index being processed, or -1.
type FileIOError struct {
	Path  string
	Frame int
	Err   error
}

func (e *FileIOError) Error() string {
	if e.Frame >= 0 {
		return fmt.Sprintf("%s: frame %d: %v", e.Path, e.Frame, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *FileIOError) Unwrap() error { return e.Err }

// IsFatal reports whether err leaves the owning field unusable
func IsFatal(err error) bool {
	var be *BackendError
	var ae *AllocationError
	return errors.As(err, &be) || errors.As(err, &ae)
}
