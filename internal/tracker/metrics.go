package tracker

import (
	"encoding/json"
	"os"
	"time"
)

// Metrics accumulates totals across every run in the state directory.
type Metrics struct {
	StartedAt       time.Time  `json:"started_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Runs            int        `json:"runs"`
	PrimaryTotal    int        `json:"primary_total"`
	SecondaryTotal  int        `json:"secondary_total"`
	ErrorTotal      int        `json:"error_total"`
	PagesTotal      int        `json:"pages_total"`
	AnomalyTotal    int        `json:"anomaly_total"`
	LastRunID       string     `json:"last_run_id,omitempty"`
	LastCompletedAt *time.Time `json:"last_completed_at,omitempty"`
}

// RunDelta is what one run contributed.
type RunDelta struct {
	Primary   int
	Secondary int
	Errors    int
	Pages     int
	Anomalies int
	Completed bool
}

func (w *Writer) LoadMetrics() (*Metrics, error) {
	b, err := os.ReadFile(w.MetricsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var m Metrics
	if err := json.Unmarshal(b, &m); err != nil {
		// Corrupted metrics file: treat as no metrics.
		return nil, nil
	}
	return &m, nil
}

func (w *Writer) SaveMetrics(m *Metrics) error {
	return writeJSONAtomic(w.MetricsPath, m)
}

// AddRun folds one finished run into the cumulative metrics.
func (w *Writer) AddRun(runID string, d RunDelta) error {
	m, err := w.LoadMetrics()
	if err != nil {
		return err
	}
	now := time.Now()
	if m == nil {
		m = &Metrics{StartedAt: now}
	}
	m.Runs++
	m.PrimaryTotal += d.Primary
	m.SecondaryTotal += d.Secondary
	m.ErrorTotal += d.Errors
	m.PagesTotal += d.Pages
	m.AnomalyTotal += d.Anomalies
	m.UpdatedAt = now
	m.LastRunID = runID
	if d.Completed {
		m.LastCompletedAt = &now
	}
	return w.SaveMetrics(m)
}
