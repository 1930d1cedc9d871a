package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd(g *globalFlags) *cobra.Command {
	var fixtures bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := g.loadConfig()
			if err != nil {
				return err
			}
			if err := validate(cfg, !fixtures, path); err != nil {
				return err
			}
			if path == "" {
				path = "built-in defaults"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d action(s), %d anomaly rule(s), pacing %s-%s)\n",
				path, len(cfg.Actions), len(cfg.Anomalies), cfg.Pacing.Min, cfg.Pacing.Max)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fixtures, "fixtures", false, "validate for a fixtures run, where target_url is optional")
	return cmd
}
