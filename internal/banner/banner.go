package banner

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/chr1sbest/autoinvite/internal/config"
	"github.com/chr1sbest/autoinvite/internal/message"
)

// Info describes the run being started.
type Info struct {
	Version string
	// Source is where pages come from: the target url, a remote browser,
	// or a fixtures directory.
	Source   string
	Restored message.PersistedState
}

// Banner handles pretty startup output
type Banner struct {
	writer io.Writer
	width  int
	r      *lipgloss.Renderer
}

// New creates a new Banner that writes to stdout
func New() *Banner {
	return NewWithWriter(os.Stdout)
}

// NewWithWriter creates a Banner with a custom writer (for testing)
func NewWithWriter(w io.Writer) *Banner {
	return &Banner{
		writer: w,
		width:  60,
		r:      lipgloss.NewRenderer(w),
	}
}

// Print displays the startup banner with config information
func (b *Banner) Print(cfg *config.Config, info Info) {
	fmt.Fprintln(b.writer, b.Render(cfg, info))
	fmt.Fprintln(b.writer)
}

// Render builds the banner box.
func (b *Banner) Render(cfg *config.Config, info Info) string {
	title := b.r.NewStyle().Bold(true).Foreground(lipgloss.Color("4")).Render("autoinvite")
	if info.Version != "" {
		title += " " + b.r.NewStyle().Faint(true).Render(info.Version)
	}

	label := b.r.NewStyle().Foreground(lipgloss.Color("8")).Width(10)
	row := func(k, v string) string {
		return label.Render(k) + truncate(v, b.width-16)
	}

	rows := []string{
		title,
		"",
		row("profile", cfg.Name),
		row("source", info.Source),
		row("pacing", fmt.Sprintf("%s - %s", cfg.Pacing.Min, cfg.Pacing.Max)),
		row("retries", fmt.Sprintf("%d every %s", cfg.MaxRetries, cfg.ErrorRetryDelay)),
		row("state", cfg.StateDir),
	}
	// Only a run that was live is continued; other saved progress is replaced.
	if r := info.Restored; r.IsRunning {
		rows = append(rows, row("restored", fmt.Sprintf("%d invited, %d skipped (resuming)",
			r.PrimaryCount, r.SecondaryCount)))
	}

	box := b.r.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("8")).
		Padding(0, 2).
		Width(b.width)
	return box.Render(strings.Join(rows, "\n"))
}

func truncate(s string, max int) string {
	if max <= 3 || len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
