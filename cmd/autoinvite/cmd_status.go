package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/chr1sbest/autoinvite/internal/tracker"
)

func newStatusCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show saved progress, the last run and cumulative totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := g.loadConfig()
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), tracker.NewWriter(cfg.StateDir))
		},
	}
}

func printStatus(out io.Writer, trk *tracker.Writer) error {
	st, err := trk.LoadState()
	if err != nil {
		return err
	}
	rs, err := trk.LoadRunState()
	if err != nil {
		return err
	}
	m, err := trk.LoadMetrics()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "State dir\t%s\n", trk.Dir)
	if l := trk.ActiveLock(); l != nil {
		fmt.Fprintf(tw, "Live run\t%s (pid %d, since %s)\n", l.RunID, l.PID, formatTime(l.StartedAt))
	}
	fmt.Fprintf(tw, "Invited\t%d\n", st.PrimaryCount)
	fmt.Fprintf(tw, "Skipped\t%d\n", st.SecondaryCount)
	fmt.Fprintf(tw, "Page\t%d\n", st.CurrentPage)
	fmt.Fprintf(tw, "Resumes on reload\t%s\n", yesNo(st.ShouldContinue()))

	if rs != nil {
		fmt.Fprintf(tw, "\nLast run\t%s\n", rs.RunID)
		fmt.Fprintf(tw, "Phase\t%s\n", rs.Phase)
		fmt.Fprintf(tw, "Started\t%s\n", formatTime(rs.StartedAt))
		fmt.Fprintf(tw, "Updated\t%s\n", formatTime(rs.UpdatedAt))
		if rs.LastActionAt != nil {
			fmt.Fprintf(tw, "Last action\t%s\n", formatTime(*rs.LastActionAt))
		}
		if rs.ErrorCount > 0 {
			fmt.Fprintf(tw, "Errors\t%d\n", rs.ErrorCount)
		}
		if rs.LastError != "" {
			fmt.Fprintf(tw, "Last error\t%s\n", rs.LastError)
		}
	}

	if m != nil {
		fmt.Fprintf(tw, "\nRuns\t%d\n", m.Runs)
		fmt.Fprintf(tw, "Invited (all runs)\t%d\n", m.PrimaryTotal)
		fmt.Fprintf(tw, "Skipped (all runs)\t%d\n", m.SecondaryTotal)
		fmt.Fprintf(tw, "Pages (all runs)\t%d\n", m.PagesTotal)
		if m.AnomalyTotal > 0 {
			fmt.Fprintf(tw, "Challenges (all runs)\t%d\n", m.AnomalyTotal)
		}
	}
	return tw.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
