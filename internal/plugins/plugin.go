// ABOUTME: Plugin interfaces and the set enabled by a config snapshot.
// ABOUTME: Plugins hold no state shared with each other.

package plugins

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/coven-fleet/internal/config"
	"github.com/2389/coven-fleet/internal/protocol"
)

// Plugin is attached once per physical connection.
type Plugin interface {
	Name() string
	// Attach starts the plugin for c. It must return promptly; background
	// work stops when ctx is done.
	Attach(ctx context.Context, c protocol.Client)
}

// ChatHandler is implemented by plugins that want chat lines heard by the agent.
type ChatHandler interface {
	HandleChat(self, speaker, message string)
}

// Enabled returns the plugins switched on in cfg, in a fixed order.
func Enabled(cfg config.PluginsConfig, logger *slog.Logger) []Plugin {
	if logger == nil {
		logger = slog.Default()
	}
	var out []Plugin
	if cfg.AntiAFK {
		out = append(out, NewAntiAFK(logger))
	}
	if cfg.RandomMove {
		out = append(out, NewRandomMove(logger))
	}
	if cfg.ChatLogger {
		out = append(out, NewChatLogger(logger))
	}
	return out
}

// pulse holds control for d, then releases it. It reports false if ctx
// ended while holding.
func pulse(ctx context.Context, c protocol.Client, control protocol.Control, d time.Duration) bool {
	if err := c.SetControlState(control, true); err != nil {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		_ = c.SetControlState(control, false)
		return false
	case <-t.C:
	}
	_ = c.SetControlState(control, false)
	return true
}

// every runs fn on each tick of interval until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func() bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !fn() {
				return
			}
		}
	}
}
