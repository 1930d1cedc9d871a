package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func startWatcher(t *testing.T, content string) (*Watcher, string) {
	t.Helper()
	dir := t.TempDir()
	path := writeConfig(t, dir, content)

	watcher, err := NewWatcher(NewLoader(dir), path, NewValidator(false))
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	if err := watcher.Start(ctx); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	t.Cleanup(func() { watcher.Stop() })
	return watcher, path
}

func nextEvent(t *testing.T, w *Watcher) ConfigEvent {
	t.Helper()
	select {
	case event := <-w.Events():
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config event")
		return ConfigEvent{}
	}
}

func TestWatcher(t *testing.T) {
	watcher, path := startWatcher(t, "name: test-config\npacing: {min: 1s, max: 2s}\n")

	if cfg := watcher.Current(); cfg == nil || cfg.Name != "test-config" {
		t.Fatalf("initial config not loaded: %+v", cfg)
	}

	if err := os.WriteFile(path, []byte("name: test-config\npacing: {min: 2s, max: 4s}\n"), 0644); err != nil {
		t.Fatalf("failed to write updated config: %v", err)
	}

	event := nextEvent(t, watcher)
	if event.Error != nil {
		t.Fatalf("unexpected error: %v", event.Error)
	}
	if event.Config == nil {
		t.Fatal("expected config in event")
	}
	if event.Config.Pacing.Max != 4*time.Second {
		t.Errorf("expected pacing max 4s, got %s", event.Config.Pacing.Max)
	}
	if watcher.Current().Pacing.Min != 2*time.Second {
		t.Errorf("current config not updated: %+v", watcher.Current().Pacing)
	}
}

func TestWatcherRejectsInvalidReload(t *testing.T) {
	watcher, path := startWatcher(t, "name: test-config\n")

	if err := os.WriteFile(path, []byte("name: test-config\npacing: {min: 5s, max: 1s}\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	event := nextEvent(t, watcher)
	if event.Error == nil {
		t.Fatal("expected validation error")
	}
	if watcher.Current().Pacing.Min != time.Second {
		t.Errorf("invalid config must not replace the current one, got %+v", watcher.Current().Pacing)
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	watcher, path := startWatcher(t, "name: test-config\n")

	other := filepath.Join(filepath.Dir(path), "notes.yaml")
	if err := os.WriteFile(other, []byte("name: other\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case event := <-watcher.Events():
		t.Errorf("unexpected event for unrelated file: %+v", event)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherStopClosesEvents(t *testing.T) {
	watcher, _ := startWatcher(t, "name: test-config\n")
	if err := watcher.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, ok := <-watcher.Events(); ok {
		t.Error("expected closed event channel")
	}
}
