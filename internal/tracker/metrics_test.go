package tracker

import "testing"

func TestMetricsAccumulateAndPersist(t *testing.T) {
	w := NewWriter(t.TempDir())

	if err := w.AddRun("run1", RunDelta{Primary: 3, Secondary: 1, Pages: 2}); err != nil {
		t.Fatal(err)
	}
	if err := w.AddRun("run2", RunDelta{Primary: 2, Errors: 1, Anomalies: 1, Pages: 1, Completed: true}); err != nil {
		t.Fatal(err)
	}

	m, err := w.LoadMetrics()
	if err != nil {
		t.Fatal(err)
	}
	if m.Runs != 2 {
		t.Fatalf("expected 2 runs, got %d", m.Runs)
	}
	if m.PrimaryTotal != 5 || m.SecondaryTotal != 1 {
		t.Fatalf("unexpected totals: primary=%d secondary=%d", m.PrimaryTotal, m.SecondaryTotal)
	}
	if m.ErrorTotal != 1 || m.PagesTotal != 3 || m.AnomalyTotal != 1 {
		t.Fatalf("unexpected totals: %+v", m)
	}
	if m.LastRunID != "run2" || m.LastCompletedAt == nil {
		t.Fatalf("expected run2 recorded as completed, got %+v", m)
	}
}
