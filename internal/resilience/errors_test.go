package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"syscall"
	"testing"
)

func TestWrappersUnwrap(t *testing.T) {
	original := errors.New("target closed")

	perm := NewPermanentError(original)
	if perm.Error() != original.Error() {
		t.Errorf("expected %q, got %q", original.Error(), perm.Error())
	}
	var p *PermanentError
	if !errors.As(perm, &p) || !errors.Is(perm, original) {
		t.Error("expected permanent error to unwrap to original")
	}

	trans := NewTransientError(original)
	var tr *TransientError
	if !errors.As(trans, &tr) || !errors.Is(trans, original) {
		t.Error("expected transient error to unwrap to original")
	}

	if NewPermanentError(nil) != nil || NewTransientError(nil) != nil {
		t.Error("expected nil for nil input")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ClassNone},
		{"plain error", errors.New("click failed"), ClassTransient},
		{"explicit permanent", NewPermanentError(errors.New("closed")), ClassPermanent},
		{"explicit transient", NewTransientError(context.DeadlineExceeded), ClassTransient},
		{"permanent wrapped by fmt", fmt.Errorf("page 3: %w", NewPermanentError(errors.New("closed"))), ClassPermanent},
		{"context canceled", context.Canceled, ClassPermanent},
		{"deadline exceeded", fmt.Errorf("wait: %w", context.DeadlineExceeded), ClassPermanent},
		{"missing browser", &exec.Error{Name: "chromium", Err: exec.ErrNotFound}, ClassPermanent},
		{"dns not found", &net.DNSError{Err: "no such host", Name: "x.invalid", IsNotFound: true}, ClassPermanent},
		{"dns temporary", &net.DNSError{Err: "temporary failure", Name: "example.com", IsTemporary: true}, ClassTransient},
		{"connection refused", syscall.ECONNREFUSED, ClassTransient},
		{"connection reset", fmt.Errorf("read: %w", syscall.ECONNRESET), ClassTransient},
		{"permission denied", &os.PathError{Op: "open", Path: "/root/profile", Err: syscall.EACCES}, ClassPermanent},
		{"not found", &os.PathError{Op: "open", Path: "/nonexistent", Err: syscall.ENOENT}, ClassPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
			if IsPermanentError(tt.err) != (tt.want == ClassPermanent) {
				t.Errorf("IsPermanentError(%v) disagrees with Classify", tt.err)
			}
			if IsTransientError(tt.err) != (tt.want == ClassTransient) {
				t.Errorf("IsTransientError(%v) disagrees with Classify", tt.err)
			}
		})
	}
}
