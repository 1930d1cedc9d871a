package tracker

import (
	"encoding/json"
	"os"
	"time"
)

// RunState is the last known snapshot of a run, rewritten on every phase
// change so an abrupt exit leaves a record behind.
type RunState struct {
	RunID          string     `json:"run_id"`
	PID            int        `json:"pid"`
	StartedAt      time.Time  `json:"started_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Phase          string     `json:"phase"`
	CurrentPage    int        `json:"current_page"`
	PrimaryCount   int        `json:"primary_count"`
	SecondaryCount int        `json:"secondary_count"`
	ErrorCount     int        `json:"error_count"`
	LastActionAt   *time.Time `json:"last_action_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
}

func (w *Writer) WriteRunState(s RunState) error {
	return writeJSONAtomic(w.RunStatePath, s)
}

func (w *Writer) LoadRunState() (*RunState, error) {
	b, err := os.ReadFile(w.RunStatePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var rs RunState
	if err := json.Unmarshal(b, &rs); err != nil {
		return nil, nil
	}
	return &rs, nil
}
