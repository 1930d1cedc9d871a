package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

// Lock is the content of the single-instance lock file.
type Lock struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	RunID     string    `json:"run_id"`
}

var ErrLockHeld = errors.New("autoinvite lock is held")

// AcquireLock claims the state directory for one process. A lock left behind
// by a process that no longer exists is taken over. The returned release
// removes the file only while it still names this run.
func (w *Writer) AcquireLock(runID string) (func() error, error) {
	mine := Lock{PID: os.Getpid(), StartedAt: time.Now().UTC(), RunID: runID}

	for attempt := 0; attempt < 2; attempt++ {
		err := writeLockFile(w.LockPath, mine)
		if err == nil {
			return func() error { return w.releaseLock(mine) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to write lock: %w", err)
		}

		held, readErr := w.readLock()
		if readErr != nil || held.PID <= 0 {
			return nil, fmt.Errorf("%w (unreadable lock file)", ErrLockHeld)
		}
		if processAlive(held.PID) {
			return nil, fmt.Errorf("%w by pid %d (run_id=%s)", ErrLockHeld, held.PID, held.RunID)
		}
		if err := os.Remove(w.LockPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to clear stale lock: %w", err)
		}
	}
	return nil, fmt.Errorf("%w (lock file keeps reappearing)", ErrLockHeld)
}

// ActiveLock returns the lock of a live process holding the state
// directory, or nil when there is none.
func (w *Writer) ActiveLock() *Lock {
	l, err := w.readLock()
	if err != nil || l.PID <= 0 || !processAlive(l.PID) {
		return nil
	}
	return &l
}

func (w *Writer) readLock() (Lock, error) {
	var l Lock
	b, err := os.ReadFile(w.LockPath)
	if err != nil {
		return l, err
	}
	err = json.Unmarshal(b, &l)
	return l, err
}

func (w *Writer) releaseLock(mine Lock) error {
	held, err := w.readLock()
	if os.IsNotExist(err) {
		return nil
	}
	if err == nil && (held.PID != mine.PID || held.RunID != mine.RunID) {
		return nil
	}
	if err := os.Remove(w.LockPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// writeLockFile creates path exclusively and syncs l into it.
func writeLockFile(path string, l Lock) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
	}
	return err
}

// processAlive sends signal 0, which only checks that pid exists.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
