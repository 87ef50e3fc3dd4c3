// ABOUTME: Per-sink delivery worker with a latest-wins status slot and a chat queue.
// ABOUTME: Sink errors and panics are logged and contained here.

package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/coven-fleet/internal/status"
)

type worker struct {
	name   string
	status StatusSink
	chat   ChatSink

	mu      sync.Mutex
	pending map[string]status.Snapshot
	waiting bool
	wake    chan struct{}

	chatQ chan ChatEvent
}

func (w *worker) offerStatus(snaps map[string]status.Snapshot) {
	w.mu.Lock()
	w.pending = snaps
	w.waiting = true
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *worker) takeStatus() (map[string]status.Snapshot, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.waiting {
		return nil, false
	}
	snaps := w.pending
	w.pending = nil
	w.waiting = false
	return snaps, true
}

func (w *worker) offerChat(ev ChatEvent) bool {
	select {
	case w.chatQ <- ev:
		return true
	default:
		return false
	}
}

func (w *worker) run(ctx context.Context, state *State, logger *slog.Logger) {
	logger = logger.With("sink", w.name)
	// Anything published before Run started is waiting in the slot.
	if snaps, ok := w.takeStatus(); ok {
		w.deliverStatus(ctx, state, logger, snaps)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
			if snaps, ok := w.takeStatus(); ok {
				w.deliverStatus(ctx, state, logger, snaps)
			}
		case ev := <-w.chatQ:
			w.deliverChat(ctx, logger, ev)
		}
	}
}

func (w *worker) deliverStatus(ctx context.Context, state *State, logger *slog.Logger, snaps map[string]status.Snapshot) {
	err := contain(func() error { return w.status.DeliverStatus(ctx, snaps) })
	if err != nil {
		logger.Warn("status delivery failed", "error", err)
		return
	}
	state.MarkSent(w.name, snaps)
}

func (w *worker) deliverChat(ctx context.Context, logger *slog.Logger, ev ChatEvent) {
	err := contain(func() error { return w.chat.DeliverChat(ctx, ev) })
	if err != nil {
		logger.Warn("chat delivery failed", "agent", ev.AgentID, "error", err)
	}
}

// contain runs fn, turning a panic into an error.
func contain(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return fn()
}
