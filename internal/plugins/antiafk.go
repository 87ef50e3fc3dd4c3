// ABOUTME: Idle avoidance: a short jump on a fixed interval.
// ABOUTME: Skips the tick when the agent has no entity.

package plugins

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/coven-fleet/internal/protocol"
)

// AntiAFK jumps every Interval for Hold.
type AntiAFK struct {
	Interval time.Duration
	Hold     time.Duration
	logger   *slog.Logger
}

// NewAntiAFK returns the plugin with a 30s interval and 300ms jump.
func NewAntiAFK(logger *slog.Logger) *AntiAFK {
	return &AntiAFK{
		Interval: 30 * time.Second,
		Hold:     300 * time.Millisecond,
		logger:   logger.With("plugin", "anti_afk"),
	}
}

func (p *AntiAFK) Name() string { return "anti_afk" }

func (p *AntiAFK) Attach(ctx context.Context, c protocol.Client) {
	go every(ctx, p.Interval, func() bool {
		if c.Entity() == nil {
			return true
		}
		p.logger.Debug("jumping", "agent", c.Username())
		return pulse(ctx, c, protocol.ControlJump, p.Hold)
	})
}
