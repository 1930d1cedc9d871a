package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ConfigEvent is one reload attempt: a validated Config or the Error that
// kept it from being applied.
type ConfigEvent struct {
	Path   string
	Config *Config
	Error  error
}

// Watcher monitors a config file and reloads it when it changes. The
// containing directory is watched so editors that replace the file by
// rename are still seen.
type Watcher struct {
	loader    *Loader
	path      string
	validator *Validator
	watcher   *fsnotify.Watcher
	events    chan ConfigEvent
	debounce  time.Duration
	quit      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once

	mu      sync.RWMutex
	current *Config
	started bool
}

// NewWatcher creates a watcher for the config file at path. Reloaded
// configs that fail validator are reported as errors and not applied.
func NewWatcher(loader *Loader, path string, validator *Validator) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if validator == nil {
		validator = NewValidator(false)
	}

	return &Watcher{
		loader:    loader,
		path:      filepath.Clean(path),
		validator: validator,
		watcher:   fsWatcher,
		events:    make(chan ConfigEvent, 10),
		debounce:  100 * time.Millisecond,
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Events returns the channel that receives config change events. It is
// closed when the watcher stops.
func (w *Watcher) Events() <-chan ConfigEvent {
	return w.events
}

// Start loads the current file and begins watching it.
func (w *Watcher) Start(ctx context.Context) error {
	cfg, err := w.loader.LoadFile(w.path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", filepath.Dir(w.path), err)
	}

	w.mu.Lock()
	w.current = cfg
	w.started = true
	w.mu.Unlock()

	go w.run(ctx)
	return nil
}

// Stop closes the watcher and waits for the event channel to close.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() { close(w.quit) })
	err := w.watcher.Close()
	w.mu.RLock()
	started := w.started
	w.mu.RUnlock()
	if started {
		<-w.done
	}
	return err
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	defer close(w.events)

	var pending time.Time
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.quit:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}

			switch {
			case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
				pending = time.Now()
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				w.send(ctx, ConfigEvent{Path: w.path, Error: fmt.Errorf("config removed: %s", w.path)})
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.send(ctx, ConfigEvent{Error: err})

		case now := <-ticker.C:
			if !pending.IsZero() && now.Sub(pending) >= w.debounce {
				pending = time.Time{}
				w.handleUpdate(ctx)
			}
		}
	}
}

func (w *Watcher) handleUpdate(ctx context.Context) {
	cfg, err := w.loader.LoadFile(w.path)
	if err == nil {
		if errs := w.validator.Validate(cfg); errs.HasErrors() {
			err = errs
		}
	}
	if err != nil {
		w.send(ctx, ConfigEvent{
			Path:  w.path,
			Error: fmt.Errorf("failed to reload config %s: %w", w.path, err),
		})
		return
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	w.send(ctx, ConfigEvent{Path: w.path, Config: cfg})
}

func (w *Watcher) send(ctx context.Context, ev ConfigEvent) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	case <-w.quit:
	}
}
