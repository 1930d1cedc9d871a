package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chr1sbest/autoinvite/internal/actuator"
	"github.com/chr1sbest/autoinvite/internal/anomaly"
	"github.com/chr1sbest/autoinvite/internal/banner"
	"github.com/chr1sbest/autoinvite/internal/browser"
	"github.com/chr1sbest/autoinvite/internal/config"
	"github.com/chr1sbest/autoinvite/internal/htmlpage"
	"github.com/chr1sbest/autoinvite/internal/logger"
	"github.com/chr1sbest/autoinvite/internal/loop"
	"github.com/chr1sbest/autoinvite/internal/message"
	"github.com/chr1sbest/autoinvite/internal/pacing"
	"github.com/chr1sbest/autoinvite/internal/page"
	"github.com/chr1sbest/autoinvite/internal/relay"
	"github.com/chr1sbest/autoinvite/internal/resilience"
	"github.com/chr1sbest/autoinvite/internal/status"
	"github.com/chr1sbest/autoinvite/internal/store"
	"github.com/chr1sbest/autoinvite/internal/tracing"
	"github.com/chr1sbest/autoinvite/internal/tracker"
	"github.com/chr1sbest/autoinvite/internal/walker"
)

type runFlags struct {
	url       string
	fixtures  string
	headless  bool
	remoteURL string
	fresh     bool
	traceFile string
	logLevel  string
	noWatch   bool
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Open the listing and run the automation",
		Long: `Open the listing (in a browser, or from HTML fixtures with --fixtures) and
invite candidates page by page until the listing is exhausted, the run is
stopped, or it fails.

A run that was live when the process last exited keeps its counters and
starts again from the first page unless --fresh is given. Any other saved
progress is replaced by a fresh run. The first interrupt stops the run, the second
exits immediately.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := g.loadConfig()
			if err != nil {
				return err
			}
			f.apply(cmd, cfg)
			if err := validate(cfg, f.fixtures == "", path); err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			interrupts, stopSignals := notifyInterrupts(ctx, cancel)
			defer stopSignals()

			r := &runner{
				cfg:        cfg,
				configPath: path,
				flags:      f,
				stdin:      cmd.InOrStdin(),
				stdout:     cmd.OutOrStdout(),
				interrupts: interrupts,
			}
			return r.run(ctx)
		},
	}

	cmd.Flags().StringVar(&f.url, "url", "", "listing url (overrides target_url)")
	cmd.Flags().StringVar(&f.fixtures, "fixtures", "", "directory of page-N.html snapshots to run against instead of a browser")
	cmd.Flags().BoolVar(&f.headless, "headless", false, "run the browser headless")
	cmd.Flags().StringVar(&f.remoteURL, "remote-url", "", "attach to a running browser (ws://host:port/...)")
	cmd.Flags().BoolVar(&f.fresh, "fresh", false, "ignore saved progress and start from the first page")
	cmd.Flags().StringVar(&f.traceFile, "trace-file", "", "write OpenTelemetry spans to this file")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&f.noWatch, "no-watch", false, "do not reload tuning values when the config file changes")
	return cmd
}

// apply lets explicitly set flags override file values.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if f.url != "" {
		cfg.TargetURL = f.url
	}
	if cmd.Flags().Changed("headless") {
		cfg.Browser.Headless = f.headless
	}
	if f.remoteURL != "" {
		cfg.Browser.RemoteURL = f.remoteURL
	}
	if f.traceFile != "" {
		cfg.TraceFile = f.traceFile
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
}

// notifyInterrupts turns the first SIGINT/SIGTERM into a stop request and
// the second into cancel.
func notifyInterrupts(ctx context.Context, cancel context.CancelFunc) (<-chan struct{}, func()) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	interrupts := make(chan struct{}, 1)
	go func() {
		n := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigCh:
				n++
				if n > 1 {
					cancel()
					return
				}
				select {
				case interrupts <- struct{}{}:
				default:
				}
			}
		}
	}()
	return interrupts, func() { signal.Stop(sigCh) }
}

// source is a page that can also rewind and report reloads.
type source interface {
	page.Page
	page.Homer
	page.LoadNotifier
}

type runner struct {
	cfg        *config.Config
	configPath string
	flags      *runFlags
	stdin      io.Reader
	stdout     io.Writer
	interrupts <-chan struct{}

	log     logger.Logger
	trk     *tracker.Writer
	policy  *pacing.Policy
	walker  *walker.Walker
	ctl     *loop.Controller
	hub     *relay.Hub
	display *status.Writer
}

func (r *runner) run(ctx context.Context) error {
	r.trk = tracker.NewWriter(r.cfg.StateDir)
	if err := r.trk.EnsureDir(); err != nil {
		return err
	}
	release, err := r.trk.AcquireLock(tracker.NewRunID())
	if err != nil {
		return fmt.Errorf("%w (is another run active? remove %s if not)", err, r.trk.LockPath)
	}
	defer func() { _ = release() }()

	logFile, err := os.OpenFile(filepath.Join(r.cfg.StateDir, "autoinvite.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()
	r.log = logger.New(logger.Config{Level: r.cfg.Log.Level, Format: r.cfg.Log.Format, Output: logFile, NoColor: true})

	if r.cfg.TraceFile != "" {
		shutdown, err := tracing.Init("autoinvite", version, r.cfg.TraceFile)
		if err != nil {
			return err
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	events, err := store.Open(ctx, r.trk.EventsPath)
	if err != nil {
		return err
	}
	defer events.Close()

	src, closeSrc, err := r.openSource(ctx)
	if err != nil {
		return err
	}
	defer closeSrc()

	persisted, err := r.trk.LoadState()
	if err != nil {
		r.log.Warn("could not read saved state", logger.F("error", err))
	}
	if r.flags.fresh {
		persisted = message.PersistedState{}
	}

	banner.NewWithWriter(r.stdout).Print(r.cfg, banner.Info{Version: versionLine(), Source: r.sourceName(), Restored: persisted})

	stateSink := r.assemble(src, events, persisted)

	forwarder := relay.NewPageReadyForwarder(src.Loads(), stateSink, r.ctl, r.log)
	go func() {
		if err := forwarder.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Warn("page-ready forwarding stopped", logger.F("error", err))
		}
	}()
	r.watchConfig(ctx)
	go r.readCommands(ctx)
	go r.forwardInterrupts(ctx)

	switch {
	case r.flags.fresh:
		err = r.ctl.StartFresh()
	case persisted.ShouldContinue():
		err = r.ctl.PageReady(true)
	default:
		err = r.ctl.Start()
	}
	if err != nil {
		return err
	}

	phase, err := r.ctl.RunUntilHalted(ctx)
	r.display.Detach()
	snap := r.ctl.Snapshot()
	fmt.Fprintf(r.stdout, "\nRun %s: %d invited, %d skipped, %d page(s), %d error(s)\n",
		phase, snap.PrimaryCount, snap.SecondaryCount, snap.PagesVisited, snap.ErrorCount())
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if phase == loop.PhaseFailed {
		return errRunFailed
	}
	return nil
}

func (r *runner) sourceName() string {
	switch {
	case r.flags.fixtures != "":
		return "fixtures " + r.flags.fixtures
	case r.cfg.Browser.RemoteURL != "":
		return r.cfg.TargetURL + " via " + r.cfg.Browser.RemoteURL
	}
	return r.cfg.TargetURL
}

func (r *runner) openSource(ctx context.Context) (source, func(), error) {
	if r.flags.fixtures != "" {
		p, err := htmlpage.Open(r.flags.fixtures,
			htmlpage.WithDoneClass(r.cfg.Selectors.DoneClass),
			htmlpage.WithNextSelector(r.cfg.Selectors.Next))
		if err != nil {
			return nil, nil, err
		}
		return p, func() {}, nil
	}

	opts := browser.DefaultOptions()
	opts.URL = r.cfg.TargetURL
	opts.RemoteURL = r.cfg.Browser.RemoteURL
	opts.ExecPath = r.cfg.Browser.ExecPath
	opts.UserDataDir = r.cfg.Browser.UserDataDir
	opts.Headless = r.cfg.Browser.Headless
	if r.cfg.Selectors.DoneClass != "" {
		opts.DoneClass = r.cfg.Selectors.DoneClass
	}
	p, err := browser.Open(ctx, opts, r.log)
	if err != nil {
		return nil, nil, err
	}
	return p, p.Close, nil
}

// assemble wires controller, walker and sinks together.
func (r *runner) assemble(src source, events *store.Store, persisted message.PersistedState) *relay.StateSink {
	policy, err := pacing.NewPolicy(r.cfg.Pacing.Min, r.cfg.Pacing.Max)
	if err != nil {
		// validated already
		policy = pacing.Default()
	}
	r.policy = policy

	r.hub = relay.NewHub(r.log, resilience.DefaultCircuitBreakerConfig())
	stateSink := relay.NewStateSink(r.trk, persisted)
	r.display = status.NewWithWriter(r.stdout)
	r.display.Restore(persisted)
	r.hub.Add(stateSink)
	r.hub.Add(relay.StoreSink{Store: events})
	r.hub.Add(&relay.MetricsSink{W: r.trk})
	r.hub.Add(relay.LogSink{Log: r.log})
	r.hub.Add(r.display)

	r.ctl = loop.New(loopConfig(r.cfg.Tuning()),
		loop.WithPublisher(r.hub),
		loop.WithRunStateWriter(r.trk),
		loop.WithLogger(r.log),
		loop.WithPage(src),
		loop.WithResetHook(r.hub.ResetSinks))
	r.ctl.Restore(persisted)

	act := actuator.New(actionRules(r.cfg.Actions), policy, r.ctl, r.ctl)
	detector := anomaly.NewRegistry().Build(anomalyRules(r.cfg.Anomalies))
	r.walker = walker.New(walkerConfig(r.cfg), src, act, detector, policy, r.ctl, r.ctl, r.log)
	r.ctl.SetWalker(r.walker)
	return stateSink
}

// watchConfig applies tuning changes from the config file to the live run.
func (r *runner) watchConfig(ctx context.Context) {
	if r.configPath == "" || r.flags.noWatch {
		return
	}
	w, err := config.NewWatcher(config.NewLoader(filepath.Dir(r.configPath)), r.configPath, config.NewValidator(false))
	if err == nil {
		err = w.Start(ctx)
	}
	if err != nil {
		r.log.Warn("config reload disabled", logger.F("error", err))
		return
	}
	go func() {
		defer w.Stop()
		for ev := range w.Events() {
			if ev.Error != nil {
				r.log.Warn("config reload rejected", logger.F("error", ev.Error))
				continue
			}
			r.reconfigure(ev.Config)
		}
	}()
}

func (r *runner) reconfigure(cfg *config.Config) {
	t := cfg.Tuning()
	wcfg := walkerConfig(r.cfg)
	wcfg.SettleDelay = t.SettleDelay
	wcfg.ItemWaitTimeout = t.ItemWaitTimeout

	err := r.ctl.Reconfigure(loopConfig(t), func() {
		if err := r.policy.SetBounds(t.Pacing.Min, t.Pacing.Max); err != nil {
			r.log.Warn("pacing not changed", logger.F("error", err))
		}
		r.walker.SetConfig(wcfg)
	})
	if err != nil {
		r.log.Warn("reconfigure failed", logger.F("error", err))
		return
	}
	r.log.Info("config reloaded",
		logger.F("pacing_min", t.Pacing.Min.String()),
		logger.F("pacing_max", t.Pacing.Max.String()),
		logger.F("max_retries", t.MaxRetries))
}

// readCommands forwards control messages typed on stdin.
func (r *runner) readCommands(ctx context.Context) {
	sc := bufio.NewScanner(r.stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		cmd, err := message.ParseCommand(sc.Bytes())
		if errors.Is(err, message.ErrEmptyCommand) {
			continue
		}
		if err != nil {
			r.log.Warn("bad control message", logger.F("error", err))
			continue
		}
		if err := r.ctl.Send(cmd); err != nil {
			r.log.Warn("control message not delivered", logger.F("action", string(cmd.Action)), logger.F("error", err))
		}
	}
}

func (r *runner) forwardInterrupts(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-r.interrupts:
		if err := r.ctl.Stop(); err != nil {
			r.log.Warn("stop not delivered", logger.F("error", err))
		}
	}
}

func loopConfig(t config.Tuning) loop.Config {
	c := loop.DefaultConfig()
	c.MaxRetries = t.MaxRetries
	c.ErrorRetryDelay = t.ErrorRetryDelay
	return c
}

func walkerConfig(cfg *config.Config) walker.Config {
	return walker.Config{
		ItemSelector:    cfg.Selectors.Item,
		NextSelector:    cfg.Selectors.Next,
		ItemWaitTimeout: cfg.ItemWaitTimeout,
		SettleDelay:     cfg.SettleDelay,
	}
}

func actionRules(rules []config.SelectorRule) []actuator.Rule {
	out := make([]actuator.Rule, 0, len(rules))
	for _, r := range rules {
		out = append(out, actuator.Rule{Kind: actuator.ActionKind(r.Kind), Selector: r.Selector})
	}
	return out
}

func anomalyRules(rules []config.SelectorRule) []anomaly.Rule {
	out := make([]anomaly.Rule, 0, len(rules))
	for _, r := range rules {
		out = append(out, anomaly.Rule{Kind: r.Kind, Selector: r.Selector})
	}
	return out
}
