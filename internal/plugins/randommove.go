// ABOUTME: Wander behavior: a short walk in a random direction on a fixed interval.
// ABOUTME: Direction is one of forward, back, left or right.

package plugins

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/2389/coven-fleet/internal/protocol"
)

// RandomMove walks in a random direction every Interval for Hold.
type RandomMove struct {
	Interval time.Duration
	Hold     time.Duration
	// Pick chooses an index into protocol.MoveControls.
	Pick   func(n int) int
	logger *slog.Logger
}

// NewRandomMove returns the plugin with a 45s interval and 800ms walk.
func NewRandomMove(logger *slog.Logger) *RandomMove {
	return &RandomMove{
		Interval: 45 * time.Second,
		Hold:     800 * time.Millisecond,
		Pick:     rand.IntN,
		logger:   logger.With("plugin", "random_move"),
	}
}

func (p *RandomMove) Name() string { return "random_move" }

func (p *RandomMove) Attach(ctx context.Context, c protocol.Client) {
	go every(ctx, p.Interval, func() bool {
		if c.Entity() == nil {
			return true
		}
		dir := protocol.MoveControls[p.Pick(len(protocol.MoveControls))]
		p.logger.Debug("wandering", "agent", c.Username(), "direction", dir)
		return pulse(ctx, c, dir, p.Hold)
	})
}
