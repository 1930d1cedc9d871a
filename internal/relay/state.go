package relay

import (
	"context"
	"sync"

	"github.com/chr1sbest/autoinvite/internal/message"
	"github.com/chr1sbest/autoinvite/internal/store"
	"github.com/chr1sbest/autoinvite/internal/tracker"
)

// StateWriter persists operator state.
type StateWriter interface {
	WriteState(s message.PersistedState) error
}

// StateSink keeps the persisted operator state in step with events.
type StateSink struct {
	w StateWriter

	mu    sync.RWMutex
	state message.PersistedState
}

// NewStateSink starts from initial, normally the state loaded at start-up.
func NewStateSink(w StateWriter, initial message.PersistedState) *StateSink {
	return &StateSink{w: w, state: initial}
}

func (*StateSink) Name() string { return "state" }

func (s *StateSink) Handle(_ context.Context, ev message.Event) error {
	s.mu.Lock()
	if ev.Data != nil {
		s.state.PrimaryCount = ev.Data.PrimaryCount
		s.state.SecondaryCount = ev.Data.SecondaryCount
		s.state.CurrentPage = ev.Data.CurrentPage
	}
	if ev.Phase != "" {
		s.state.IsRunning, s.state.IsPaused = phaseFlags(ev.Phase)
	}
	st := s.state
	s.mu.Unlock()

	if s.w == nil {
		return nil
	}
	return s.w.WriteState(st)
}

// State returns the last persisted state.
func (s *StateSink) State() message.PersistedState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func phaseFlags(phase string) (running, paused bool) {
	switch phase {
	case "running", "stopping":
		return true, false
	case "paused":
		return true, true
	default:
		return false, false
	}
}

// StoreSink appends events to the event log.
type StoreSink struct {
	Store *store.Store
}

func (StoreSink) Name() string { return "events" }

func (s StoreSink) Handle(ctx context.Context, ev message.Event) error {
	return s.Store.Append(ctx, ev)
}

// MetricsSink folds each finished run into cumulative metrics.
type MetricsSink struct {
	W *tracker.Writer

	mu        sync.Mutex
	runID     string
	recorded  string
	anomalies int
	pages     int
	last      message.StatusData
}

func (*MetricsSink) Name() string { return "metrics" }

func (m *MetricsSink) Handle(_ context.Context, ev message.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.RunID == m.recorded {
		return nil
	}
	if ev.RunID != m.runID {
		m.runID, m.anomalies, m.pages, m.last = ev.RunID, 0, 0, message.StatusData{}
	}
	if ev.Type == message.EventAnomalyDetected {
		m.anomalies++
		return nil
	}
	if ev.Data == nil {
		return nil
	}
	if ev.Data.CurrentPage > m.pages {
		m.pages = ev.Data.CurrentPage
	}
	m.last = *ev.Data

	if ev.Phase != "stopped" && ev.Phase != "failed" {
		return nil
	}
	err := m.W.AddRun(ev.RunID, tracker.RunDelta{
		Primary:   m.last.PrimaryCount,
		Secondary: m.last.SecondaryCount,
		Errors:    m.last.ErrorCount,
		Pages:     m.pages,
		Anomalies: m.anomalies,
		Completed: ev.Phase == "stopped" && m.last.Type == message.LevelSuccess,
	})
	m.recorded = ev.RunID
	return err
}
