package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/chr1sbest/autoinvite/internal/message"
	"github.com/chr1sbest/autoinvite/internal/store"
	"github.com/chr1sbest/autoinvite/internal/tracker"
)

func newLogCmd(g *globalFlags) *cobra.Command {
	var (
		runID string
		limit int
		runs  bool
	)
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Print the event log",
		Long: `Print stored status events, oldest first. By default the most recent
events of every run are shown; --run narrows to one run and --runs lists
the runs instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := g.loadConfig()
			if err != nil {
				return err
			}
			path := tracker.NewWriter(cfg.StateDir).EventsPath
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("no event log at %s", path)
			}
			s, err := store.Open(cmd.Context(), path)
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			if runs {
				summaries, err := s.Runs(cmd.Context())
				if err != nil {
					return err
				}
				printRuns(out, summaries)
				return nil
			}
			recs, err := s.List(cmd.Context(), store.Query{RunID: runID, Limit: limit})
			if err != nil {
				return err
			}
			printRecords(out, recs)
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "only show events of this run")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "show at most this many recent events (0 for all)")
	cmd.Flags().BoolVar(&runs, "runs", false, "list runs instead of events")
	return cmd
}

func printRecords(out io.Writer, recs []store.Record) {
	r := lipgloss.NewRenderer(out)
	dim := r.NewStyle().Faint(true)
	levels := map[message.Level]lipgloss.Style{
		message.LevelSuccess: r.NewStyle().Foreground(lipgloss.Color("2")),
		message.LevelWarning: r.NewStyle().Foreground(lipgloss.Color("3")),
		message.LevelError:   r.NewStyle().Foreground(lipgloss.Color("1")),
	}

	for _, rec := range recs {
		text := rec.Message
		level := rec.Level
		if rec.Type == message.EventAnomalyDetected {
			text = "Anomaly detected: " + rec.Kind
			level = message.LevelWarning
		}
		style, ok := levels[level]
		if !ok {
			style = r.NewStyle()
		}
		fmt.Fprintf(out, "%s %s %-8s %s\n",
			dim.Render(rec.Time.Local().Format(time.DateTime)),
			dim.Render(shortID(rec.RunID)),
			style.Render(string(level)),
			text)
	}
}

func printRuns(out io.Writer, runs []store.RunSummary) {
	for _, run := range runs {
		fmt.Fprintf(out, "%s  %s  %s  %d events  %s\n",
			run.RunID,
			run.FirstSeen.Local().Format(time.DateTime),
			run.LastSeen.Local().Format(time.DateTime),
			run.Events,
			run.LastPhase)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
