package main

import (
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
)

// Set by the release build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func unset(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || s == "none" || s == "unknown"
}

func versionLine() string {
	if version != "dev" {
		return fmt.Sprintf("autoinvite version %s", version)
	}

	c, d := strings.TrimSpace(commit), strings.TrimSpace(date)
	if unset(c) || unset(d) {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				v := strings.TrimSpace(s.Value)
				switch {
				case s.Key == "vcs.revision" && unset(c) && v != "":
					c = v
				case s.Key == "vcs.time" && unset(d) && v != "":
					d = v
				}
			}
		}
	}
	if !unset(c) && len(c) > 7 {
		c = c[:7]
	}

	switch {
	case unset(c) && unset(d):
		return "autoinvite version dev"
	case unset(c):
		return fmt.Sprintf("autoinvite version dev (built %s)", d)
	case unset(d):
		return fmt.Sprintf("autoinvite version dev (commit %s)", c)
	}
	return fmt.Sprintf("autoinvite version dev (commit %s, built %s)", c, d)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionLine())
		},
	}
}
