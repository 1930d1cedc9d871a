package resilience

import (
	"context"
	"errors"
	"net"
	"os"
	"os/exec"
	"syscall"
)

// PermanentError marks Err as not worth retrying.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// NewPermanentError wraps err; nil stays nil.
func NewPermanentError(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// TransientError marks Err as worth retrying regardless of what it wraps.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err; nil stays nil.
func NewTransientError(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Class is the retry classification of an error.
type Class string

const (
	ClassNone      Class = ""
	ClassTransient Class = "transient"
	ClassPermanent Class = "permanent"
)

// Classify decides whether err is worth retrying. Explicit wrappers win,
// the outermost one first. Unknown errors are transient.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}

	var perm *PermanentError
	var trans *TransientError
	switch {
	case errors.As(err, &perm):
		return ClassPermanent
	case errors.As(err, &trans):
		return ClassTransient
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassPermanent
	case errors.Is(err, exec.ErrNotFound):
		// no browser binary to launch
		return ClassPermanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return ClassPermanent
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EACCES, syscall.EPERM, syscall.ENOENT, syscall.ENOTDIR:
			return ClassPermanent
		}
		return ClassTransient
	}
	if errors.Is(err, os.ErrPermission) || errors.Is(err, os.ErrNotExist) {
		return ClassPermanent
	}
	return ClassTransient
}

func IsPermanentError(err error) bool {
	return Classify(err) == ClassPermanent
}

func IsTransientError(err error) bool {
	return Classify(err) == ClassTransient
}
