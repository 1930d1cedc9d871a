package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/chr1sbest/autoinvite/internal/config"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	stateDir   string
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "autoinvite",
		Short: "Invite candidates from a paginated listing, one item at a time",
		Long: `autoinvite walks a paginated candidate listing in a browser and clicks the
invite control on each card, falling back to skip, with randomized pacing.

While a run is live, type a command and press enter:
  start (s)   pause (p)   resume (r)   stop (q)   reset`,
		Version:       versionLine(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate("{{.Version}}\n")

	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "config file (default ./"+config.DefaultFile+" when present)")
	root.PersistentFlags().StringVar(&g.stateDir, "state-dir", "", "state directory (overrides state_dir)")

	root.AddCommand(
		newRunCmd(g),
		newStatusCmd(g),
		newLogCmd(g),
		newValidateCmd(g),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads the config named by --config, or ./autoinvite.yaml when
// it exists, or the built-in defaults. It returns the path actually read.
func (g *globalFlags) loadConfig() (*config.Config, string, error) {
	loader := config.NewLoader(".")
	path := g.configPath
	if path == "" {
		if _, err := os.Stat(loader.DefaultPath()); err == nil {
			path = loader.DefaultPath()
		}
	}

	var cfg *config.Config
	if path == "" {
		cfg = config.Default()
	} else {
		var err error
		cfg, err = loader.LoadFile(path)
		if err != nil {
			return nil, "", err
		}
	}
	if g.stateDir != "" {
		cfg.StateDir = g.stateDir
	}
	return cfg, path, nil
}

func validate(cfg *config.Config, requireTarget bool, path string) error {
	errs := config.NewValidator(requireTarget).Validate(cfg)
	if !errs.HasErrors() {
		return nil
	}
	if path == "" {
		path = "built-in defaults"
	}
	return fmt.Errorf("config validation failed for %s:\n%w", path, errs)
}

var errRunFailed = errors.New("run failed")
