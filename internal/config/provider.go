// ABOUTME: Versioned configuration snapshots with fsnotify-driven hot reload
// ABOUTME: Invalid files are rejected whole; the previous snapshot stays in effect

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce absorbs the burst of write events editors produce on save.
const reloadDebounce = 100 * time.Millisecond

// Source supplies the current configuration snapshot.
type Source interface {
	Current() *Config
}

type snapshot struct {
	cfg     *Config
	version uint64
}

// Provider holds the live configuration snapshot for the process.
type Provider struct {
	path    string
	current atomic.Pointer[snapshot]
	reload  sync.Mutex
	logger  *slog.Logger
}

// NewProvider creates a Provider serving cfg, which was loaded from path.
// Pass nil logger for default.
func NewProvider(path string, cfg *Config, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{
		path:   path,
		logger: logger.With("component", "config"),
	}
	p.current.Store(&snapshot{cfg: cfg, version: 1})
	return p
}

// Static returns a Provider that serves cfg and has no backing file.
func Static(cfg *Config) *Provider {
	return NewProvider("", cfg, nil)
}

// Current returns the active snapshot. Callers must not mutate it.
func (p *Provider) Current() *Config {
	return p.current.Load().cfg
}

// Version returns a counter that increases by one on every accepted reload.
func (p *Provider) Version() uint64 {
	return p.current.Load().version
}

// Replace installs cfg as the next snapshot after validating it.
func (p *Provider) Replace(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	p.store(cfg)
	return nil
}

func (p *Provider) store(cfg *Config) {
	for {
		prev := p.current.Load()
		next := &snapshot{cfg: cfg, version: prev.version + 1}
		if p.current.CompareAndSwap(prev, next) {
			return
		}
	}
}

// Reload re-reads the backing file. On error the previous snapshot is kept.
func (p *Provider) Reload() error {
	if p.path == "" {
		return fmt.Errorf("config provider has no backing file")
	}

	p.reload.Lock()
	defer p.reload.Unlock()

	cfg, err := Load(p.path)
	if err != nil {
		p.logger.Error("config reload rejected, keeping previous",
			"path", p.path,
			"version", p.Version(),
			"error", err,
		)
		return err
	}
	p.store(cfg)
	p.logger.Info("config reloaded", "path", p.path, "version", p.Version())
	return nil
}

// Watch reloads the configuration whenever the backing file changes.
// It blocks until ctx is cancelled.
func (p *Provider) Watch(ctx context.Context) error {
	if p.path == "" {
		return fmt.Errorf("config provider has no backing file")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors often replace the file via rename.
	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	p.logger.Debug("watching config for changes", "path", p.path)

	base := filepath.Base(p.path)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				_ = p.Reload()
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("config watcher error", "error", err)
		}
	}
}
