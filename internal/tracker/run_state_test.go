package tracker

import (
	"testing"
	"time"
)

func TestRunStateRoundTrip(t *testing.T) {
	w := NewWriter(t.TempDir())

	if rs, err := w.LoadRunState(); err != nil || rs != nil {
		t.Fatalf("expected no run state, got %+v, %v", rs, err)
	}

	rs := RunState{
		RunID:        "abc",
		PID:          123,
		StartedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:    time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
		Phase:        "paused",
		CurrentPage:  7,
		PrimaryCount: 12,
		ErrorCount:   1,
		LastError:    "no items found",
	}
	if err := w.WriteRunState(rs); err != nil {
		t.Fatalf("WriteRunState error: %v", err)
	}

	got, err := w.LoadRunState()
	if err != nil {
		t.Fatalf("LoadRunState error: %v", err)
	}
	if got == nil || got.Phase != "paused" || got.CurrentPage != 7 || got.LastError != "no items found" {
		t.Fatalf("unexpected run state: %+v", got)
	}
}
