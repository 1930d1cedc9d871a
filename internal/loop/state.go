package loop

import (
	"time"

	"github.com/chr1sbest/autoinvite/internal/message"
)

// ErrorEntry is one recovered error.
type ErrorEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
	Context string    `json:"context"`
}

// RunState is the state of the current run. Only the controller goroutine
// mutates it; other goroutines read copies from Controller.Snapshot.
type RunState struct {
	RunID             string
	Phase             Phase
	CurrentPage       int
	PrimaryCount      int
	SecondaryCount    int
	ConsecutiveErrors int
	ErrorLog          []ErrorEntry
	LastActionAt      *time.Time
	StartedAt         time.Time
	Anomalies         int
	PagesVisited      int
}

func newRunState() RunState {
	return RunState{Phase: PhaseIdle, CurrentPage: 1}
}

func (s RunState) clone() RunState {
	out := s
	if s.ErrorLog != nil {
		out.ErrorLog = make([]ErrorEntry, len(s.ErrorLog))
		copy(out.ErrorLog, s.ErrorLog)
	}
	if s.LastActionAt != nil {
		t := *s.LastActionAt
		out.LastActionAt = &t
	}
	return out
}

// ErrorCount is the number of recovered errors in this run.
func (s RunState) ErrorCount() int {
	return len(s.ErrorLog)
}

// Persisted converts the run state to the restorable record.
func (s RunState) Persisted() message.PersistedState {
	return message.PersistedState{
		PrimaryCount:   s.PrimaryCount,
		SecondaryCount: s.SecondaryCount,
		CurrentPage:    s.CurrentPage,
		IsRunning:      s.Phase == PhaseRunning || s.Phase == PhasePaused || s.Phase == PhaseStopping,
		IsPaused:       s.Phase == PhasePaused,
	}
}
