// Package tracker persists operator-facing state under the state directory:
// the restorable counters (state.json), the last run snapshot, cumulative
// metrics and the single-instance lock.
package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chr1sbest/autoinvite/internal/message"
)

type Writer struct {
	Dir          string
	StatePath    string
	RunStatePath string
	LockPath     string
	MetricsPath  string
	EventsPath   string
}

func NewWriter(dir string) *Writer {
	return &Writer{
		Dir:          dir,
		StatePath:    filepath.Join(dir, "state.json"),
		RunStatePath: filepath.Join(dir, "run_state.json"),
		LockPath:     filepath.Join(dir, ".autoinvite_lock"),
		MetricsPath:  filepath.Join(dir, "metrics.json"),
		EventsPath:   filepath.Join(dir, "events.db"),
	}
}

// EnsureDir creates the state directory.
func (w *Writer) EnsureDir() error {
	if err := os.MkdirAll(w.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	return nil
}

// WriteState replaces the persisted operator state.
func (w *Writer) WriteState(s message.PersistedState) error {
	return writeJSONAtomic(w.StatePath, s)
}

// LoadState reads the persisted operator state. A missing or corrupt file
// yields the zero state.
func (w *Writer) LoadState() (message.PersistedState, error) {
	var s message.PersistedState
	b, err := os.ReadFile(w.StatePath)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, err
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return message.PersistedState{}, nil
	}
	return s, nil
}

// writeJSONAtomic replaces path with v so readers never see a partial file.
func writeJSONAtomic(path string, v any) (err error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(f.Name())
		}
	}()

	if _, err = f.Write(append(data, '\n')); err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}
