// Package status renders the operator display: live counters and a
// scrolling log of status messages, redrawn in place.
package status

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/chr1sbest/autoinvite/internal/message"
)

// Cursor control sequences.
const (
	clearLine  = "\033[2K"
	moveUp     = "\033[A"
	moveToCol0 = "\r"
)

// DefaultLogLines is how many log entries stay on screen.
const DefaultLogLines = 8

type entry struct {
	at    time.Time
	level message.Level
	text  string
}

type styles struct {
	label   lipgloss.Style
	value   lipgloss.Style
	errors  lipgloss.Style
	dim     lipgloss.Style
	phase   map[string]lipgloss.Style
	level   map[message.Level]lipgloss.Style
	divider lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	color := func(c string) lipgloss.Style { return r.NewStyle().Foreground(lipgloss.Color(c)) }
	return styles{
		label:   color("8"),
		value:   r.NewStyle().Bold(true),
		errors:  color("1").Bold(true),
		dim:     r.NewStyle().Faint(true),
		divider: color("8"),
		phase: map[string]lipgloss.Style{
			"running":  color("2").Bold(true),
			"paused":   color("3").Bold(true),
			"stopping": color("3"),
			"stopped":  color("6"),
			"failed":   color("1").Bold(true),
		},
		level: map[message.Level]lipgloss.Style{
			message.LevelInfo:    color("6"),
			message.LevelSuccess: color("2"),
			message.LevelWarning: color("3"),
			message.LevelError:   color("1"),
		},
	}
}

// Writer handles in-place status updates to the terminal. It is a relay
// sink: every event updates the counters and appends to the log.
type Writer struct {
	w            io.Writer
	mu           sync.Mutex
	linesWritten int
	maxLog       int
	st           styles

	phase   string
	data    message.StatusData
	entries []entry
}

// New draws on stdout.
func New() *Writer {
	return NewWithWriter(os.Stdout)
}

// NewWithWriter creates a status writer with a custom output. Colors are
// used only when w is a terminal.
func NewWithWriter(w io.Writer) *Writer {
	return &Writer{
		w:      w,
		maxLog: DefaultLogLines,
		st:     newStyles(lipgloss.NewRenderer(w)),
		phase:  "idle",
	}
}

// Restore seeds the counters from persisted state before the first event.
func (s *Writer) Restore(st message.PersistedState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.PrimaryCount = st.PrimaryCount
	s.data.SecondaryCount = st.SecondaryCount
	s.data.CurrentPage = st.CurrentPage
}

func (*Writer) Name() string { return "display" }

// Handle folds ev into the display and redraws it.
func (s *Writer) Handle(_ context.Context, ev message.Event) error {
	s.mu.Lock()
	if ev.Phase != "" {
		s.phase = ev.Phase
	}
	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}
	switch ev.Type {
	case message.EventStatusUpdate:
		if ev.Data != nil {
			s.data = *ev.Data
			s.push(entry{at: at, level: ev.Data.Type, text: ev.Data.Message})
		}
	case message.EventAnomalyDetected:
		s.push(entry{at: at, level: message.LevelWarning, text: fmt.Sprintf("Anomaly detected: %s", ev.Kind)})
	}
	lines := s.render()
	s.mu.Unlock()

	s.Update(lines...)
	return nil
}

func (s *Writer) push(e entry) {
	s.entries = append(s.entries, e)
	if over := len(s.entries) - s.maxLog; over > 0 {
		s.entries = append(s.entries[:0], s.entries[over:]...)
	}
}

// Lines returns the current display without drawing it.
func (s *Writer) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.render()
}

func (s *Writer) render() []string {
	st := s.st
	phaseStyle, ok := st.phase[s.phase]
	if !ok {
		phaseStyle = st.dim
	}

	counter := func(label string, n int) string {
		return st.label.Render(label) + " " + st.value.Render(fmt.Sprint(n))
	}
	parts := []string{
		phaseStyle.Render(strings.ToUpper(s.phase)),
		counter("invited", s.data.PrimaryCount),
		counter("skipped", s.data.SecondaryCount),
		counter("page", s.data.CurrentPage),
	}
	if s.data.ErrorCount > 0 {
		parts = append(parts, st.errors.Render(fmt.Sprintf("errors %d", s.data.ErrorCount)))
	}

	lines := []string{strings.Join(parts, "  "), st.divider.Render(strings.Repeat("─", 40))}
	for _, e := range s.entries {
		ls, ok := st.level[e.level]
		if !ok {
			ls = st.dim
		}
		lines = append(lines, fmt.Sprintf("%s %s %s",
			st.dim.Render(e.at.Local().Format(time.TimeOnly)),
			ls.Render(fmt.Sprintf("%-7s", e.level)),
			e.text))
	}
	return lines
}

// Clear removes the lines drawn by the last Update.
func (s *Writer) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < s.linesWritten; i++ {
		fmt.Fprint(s.w, moveUp+clearLine)
	}
	fmt.Fprint(s.w, moveToCol0)
	s.linesWritten = 0
}

// Update replaces the drawn lines with lines.
func (s *Writer) Update(lines ...string) {
	s.Clear()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, line := range lines {
		fmt.Fprintln(s.w, line)
	}
	s.linesWritten = len(lines)
}

// Detach stops redrawing over earlier output; the next update starts
// below whatever is on screen.
func (s *Writer) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linesWritten = 0
}
