package config

import (
	"time"
)

// DefaultFile is the config file looked up when none is given.
const DefaultFile = "autoinvite.yaml"

// Config is an automation profile loaded from YAML.
type Config struct {
	Name      string    `yaml:"name"`
	TargetURL string    `yaml:"target_url"`
	Selectors Selectors `yaml:"selectors"`

	// Actions are tried in order; the first applicable one is taken.
	Actions   []SelectorRule `yaml:"actions"`
	Anomalies []SelectorRule `yaml:"anomalies"`

	Pacing          Pacing        `yaml:"pacing"`
	SettleDelay     time.Duration `yaml:"settle_delay"`
	ItemWaitTimeout time.Duration `yaml:"item_wait_timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	ErrorRetryDelay time.Duration `yaml:"error_retry_delay"`

	Browser   Browser `yaml:"browser"`
	StateDir  string  `yaml:"state_dir"`
	Log       Log     `yaml:"log"`
	TraceFile string  `yaml:"trace_file"`
}

// Selectors locate the parts of a listing page.
type Selectors struct {
	Item string `yaml:"item"`
	Next string `yaml:"next"`
	// DoneClass marks a control that was already acted on.
	DoneClass string `yaml:"done_class"`
}

// SelectorRule pairs a kind with a CSS selector. Used for both actions
// (kind primary or secondary) and anomaly rules.
type SelectorRule struct {
	Kind     string `yaml:"kind"`
	Selector string `yaml:"selector"`
}

// Pacing bounds the random delay between actions.
type Pacing struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

type Browser struct {
	Headless    bool   `yaml:"headless"`
	RemoteURL   string `yaml:"remote_url"`
	UserDataDir string `yaml:"user_data_dir"`
	ExecPath    string `yaml:"exec_path"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Tuning is the subset of a config that can change while a run is live.
type Tuning struct {
	Pacing          Pacing
	SettleDelay     time.Duration
	ItemWaitTimeout time.Duration
	MaxRetries      int
	ErrorRetryDelay time.Duration
}

// Default returns the profile for the candidate listing site. Values read
// from a file are layered on top of it.
func Default() *Config {
	return &Config{
		Name: "default",
		Selectors: Selectors{
			Item:      ".candidate-card",
			Next:      ".next-page",
			DoneClass: "invited",
		},
		Actions: []SelectorRule{
			{Kind: "primary", Selector: ".Invite"},
			{Kind: "secondary", Selector: ".Skip"},
		},
		Anomalies: []SelectorRule{
			{Kind: "verification-challenge", Selector: ".captcha-container"},
		},
		Pacing:          Pacing{Min: time.Second, Max: 3 * time.Second},
		SettleDelay:     3 * time.Second,
		ItemWaitTimeout: 10 * time.Second,
		MaxRetries:      3,
		ErrorRetryDelay: 5 * time.Second,
		StateDir:        ".autoinvite",
		Log:             Log{Level: "info", Format: "console"},
	}
}

// Tuning extracts the hot-reloadable values.
func (c *Config) Tuning() Tuning {
	return Tuning{
		Pacing:          c.Pacing,
		SettleDelay:     c.SettleDelay,
		ItemWaitTimeout: c.ItemWaitTimeout,
		MaxRetries:      c.MaxRetries,
		ErrorRetryDelay: c.ErrorRetryDelay,
	}
}
