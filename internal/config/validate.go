package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError is one problem found in a config. Path locates the
// enclosing list element, e.g. actions[1], and is empty for top-level fields.
type ValidationError struct {
	Path    string
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	field := e.Field
	if e.Path != "" {
		field = e.Path + "." + field
	}
	return field + ": " + e.Message
}

// ValidationErrors is every problem found in one pass.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d problem(s) found", len(errs))
	for _, e := range errs {
		b.WriteString("\n  - ")
		b.WriteString(e.Error())
	}
	return b.String()
}

func (errs ValidationErrors) HasErrors() bool {
	return len(errs) > 0
}

var (
	actionKinds = []string{"primary", "secondary"}
	logLevels   = []string{"trace", "debug", "info", "warn", "warning", "error"}
	logFormats  = []string{"console", "json"}
)

// Validator checks a loaded config before it is used.
type Validator struct {
	requireTarget bool
}

// NewValidator returns a validator. requireTarget is false when
// the page comes from somewhere other than target_url, such as fixtures.
func NewValidator(requireTarget bool) *Validator {
	return &Validator{requireTarget: requireTarget}
}

// Validate reports every problem in cfg.
func (v *Validator) Validate(cfg *Config) ValidationErrors {
	var errs ValidationErrors
	add := func(field, msg, ctx string) {
		errs = append(errs, ValidationError{Path: ctx, Field: field, Message: msg})
	}

	if cfg.Name == "" {
		add("name", "config name is required", "")
	}

	switch {
	case cfg.TargetURL == "" && v.requireTarget:
		add("target_url", "target url is required", "")
	case cfg.TargetURL != "":
		if msg := checkURL(cfg.TargetURL, "http", "https", "file"); msg != "" {
			add("target_url", msg, "")
		}
	}
	if cfg.Browser.RemoteURL != "" {
		if msg := checkURL(cfg.Browser.RemoteURL, "ws", "wss", "http", "https"); msg != "" {
			add("remote_url", msg, "browser")
		}
	}

	if cfg.Selectors.Item == "" {
		add("item", "item selector is required", "selectors")
	}
	if cfg.Selectors.Next == "" {
		add("next", "next selector is required", "selectors")
	}

	if len(cfg.Actions) == 0 {
		add("actions", "at least one action is required", "")
	}
	seenKinds := make(map[string]bool)
	for i, a := range cfg.Actions {
		ctx := fmt.Sprintf("actions[%d]", i)
		if !contains(actionKinds, a.Kind) {
			add("kind", fmt.Sprintf("unknown action kind %q, known kinds: %s", a.Kind, strings.Join(actionKinds, ", ")), ctx)
		} else if seenKinds[a.Kind] {
			add("kind", fmt.Sprintf("duplicate action kind %q", a.Kind), ctx)
		}
		seenKinds[a.Kind] = true
		if a.Selector == "" {
			add("selector", "action selector is required", ctx)
		}
	}

	seenAnomalies := make(map[string]bool)
	for i, a := range cfg.Anomalies {
		ctx := fmt.Sprintf("anomalies[%d]", i)
		if a.Kind == "" {
			add("kind", "anomaly kind is required", ctx)
		} else if seenAnomalies[a.Kind] {
			add("kind", fmt.Sprintf("duplicate anomaly kind %q", a.Kind), ctx)
		}
		seenAnomalies[a.Kind] = true
		if a.Selector == "" {
			add("selector", "anomaly selector is required", ctx)
		}
	}

	if cfg.Pacing.Min < 0 || cfg.Pacing.Max < 0 {
		add("pacing", "bounds must be non-negative", "")
	} else if cfg.Pacing.Min > cfg.Pacing.Max {
		add("pacing", fmt.Sprintf("min %s exceeds max %s", cfg.Pacing.Min, cfg.Pacing.Max), "")
	}
	if cfg.SettleDelay < 0 {
		add("settle_delay", "must be non-negative", "")
	}
	if cfg.ItemWaitTimeout <= 0 {
		add("item_wait_timeout", "must be positive", "")
	}
	if cfg.MaxRetries < 0 {
		add("max_retries", "must be non-negative", "")
	}
	if cfg.ErrorRetryDelay < 0 {
		add("error_retry_delay", "must be non-negative", "")
	}

	if cfg.StateDir == "" {
		add("state_dir", "state directory is required", "")
	}
	if cfg.Log.Level != "" && !contains(logLevels, strings.ToLower(cfg.Log.Level)) {
		add("level", fmt.Sprintf("unknown log level %q", cfg.Log.Level), "log")
	}
	if cfg.Log.Format != "" && !contains(logFormats, cfg.Log.Format) {
		add("format", fmt.Sprintf("unknown log format %q, known formats: %s", cfg.Log.Format, strings.Join(logFormats, ", ")), "log")
	}

	return errs
}

func checkURL(raw string, schemes ...string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Sprintf("invalid url: %v", err)
	}
	if !contains(schemes, u.Scheme) {
		return fmt.Sprintf("url scheme must be one of %s", strings.Join(schemes, ", "))
	}
	if u.Scheme != "file" && u.Host == "" {
		return "url has no host"
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ValidateConfig validates a config that must name its target.
func ValidateConfig(cfg *Config) error {
	errs := NewValidator(true).Validate(cfg)
	if errs.HasErrors() {
		return errs
	}
	return nil
}
