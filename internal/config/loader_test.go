package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `name: internshala
target_url: ${AUTOINVITE_TEST_URL:-https://example.com/candidates}
selectors:
  item: ".card"
  next: ".more"
  done_class: done
actions:
  - {kind: primary, selector: ".Invite"}
anomalies:
  - {kind: verification-challenge, selector: "#captcha"}
pacing: {min: 500ms, max: 2s}
max_retries: 5
browser: {headless: true}
`

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, DefaultFile)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, sampleConfig)

	loader := NewLoader(dir)
	cfg, err := loader.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Name != "internshala" {
		t.Errorf("expected name 'internshala', got %s", cfg.Name)
	}
	if cfg.TargetURL != "https://example.com/candidates" {
		t.Errorf("expected default url, got %s", cfg.TargetURL)
	}
	if cfg.Selectors.Item != ".card" || cfg.Selectors.DoneClass != "done" {
		t.Errorf("unexpected selectors %+v", cfg.Selectors)
	}
	if len(cfg.Actions) != 1 || cfg.Actions[0].Selector != ".Invite" {
		t.Errorf("expected one action, got %+v", cfg.Actions)
	}
	if cfg.Pacing.Min != 500*time.Millisecond || cfg.Pacing.Max != 2*time.Second {
		t.Errorf("unexpected pacing %+v", cfg.Pacing)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("expected max_retries 5, got %d", cfg.MaxRetries)
	}
	if !cfg.Browser.Headless {
		t.Error("expected headless browser")
	}

	// Keys absent from the file keep their defaults.
	if cfg.SettleDelay != 3*time.Second {
		t.Errorf("expected default settle delay, got %s", cfg.SettleDelay)
	}
	if cfg.StateDir != ".autoinvite" {
		t.Errorf("expected default state dir, got %s", cfg.StateDir)
	}
}

func TestLoadFileExpandsEnv(t *testing.T) {
	t.Setenv("AUTOINVITE_TEST_URL", "https://jobs.example.org/list")
	dir := t.TempDir()
	path := writeConfig(t, dir, sampleConfig)

	cfg, err := NewLoader(dir).LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.TargetURL != "https://jobs.example.org/list" {
		t.Errorf("expected env url, got %s", cfg.TargetURL)
	}
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(dir)

	if _, err := loader.LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := writeConfig(t, dir, "name: x\nselectorz: {}\n")
	if _, err := loader.LoadFile(path); err == nil || !strings.Contains(err.Error(), "selectorz") {
		t.Errorf("expected unknown key error, got %v", err)
	}

	path = writeConfig(t, dir, "target_url: ${AUTOINVITE_UNSET_URL:?set the url}\n")
	if _, err := loader.LoadFile(path); err == nil || !strings.Contains(err.Error(), "set the url") {
		t.Errorf("expected missing variable error, got %v", err)
	}

	path = writeConfig(t, dir, "pacing: {min: soon}\n")
	if _, err := loader.LoadFile(path); err == nil {
		t.Error("expected error for bad duration")
	}
}

func TestLoadAndValidate(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(dir)

	path := writeConfig(t, dir, sampleConfig)
	if _, err := loader.LoadAndValidate(path); err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}

	path = writeConfig(t, dir, "name: x\nactions: []\n")
	_, err := loader.LoadAndValidate(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "target_url") || !strings.Contains(err.Error(), "actions") {
		t.Errorf("expected every problem reported, got %v", err)
	}
}

func TestLoadDefault(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(dir)

	cfg, err := loader.LoadDefault()
	if err != nil {
		t.Fatalf("missing default file should fall back: %v", err)
	}
	if cfg.Name != "default" {
		t.Errorf("expected built-in defaults, got %s", cfg.Name)
	}

	writeConfig(t, dir, "name: custom\n")
	cfg, err = loader.LoadDefault()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "custom" {
		t.Errorf("expected name custom, got %s", cfg.Name)
	}
}

func TestEmptyFileUsesDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Tuning() != Default().Tuning() {
		t.Errorf("expected default tuning, got %+v", cfg.Tuning())
	}
}
