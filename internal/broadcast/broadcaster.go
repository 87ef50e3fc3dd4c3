// ABOUTME: Fan-out of status snapshots and chat lines to per-sink workers
// ABOUTME: Publishing never blocks; each sink is isolated from the others

package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-fleet/internal/status"
)

// chatQueueSize is the per-sink chat buffer.
const chatQueueSize = 64

// ErrRunning is returned when a sink is added after Run has started.
var ErrRunning = errors.New("broadcaster already running")

// StatusSink receives the full snapshot map.
type StatusSink interface {
	Name() string
	DeliverStatus(ctx context.Context, snapshots map[string]status.Snapshot) error
}

// ChatSink receives chat lines one at a time.
type ChatSink interface {
	Name() string
	DeliverChat(ctx context.Context, ev ChatEvent) error
}

// Source supplies fresh snapshots for the re-delivery tick.
type Source interface {
	Snapshots(ctx context.Context) (map[string]status.Snapshot, error)
}

// Broadcaster delivers published updates to every registered sink.
type Broadcaster struct {
	state  *State
	logger *slog.Logger

	mu      sync.RWMutex
	workers []*worker
	running bool
}

// NewBroadcaster creates a Broadcaster recording into state. Pass nil logger
// for default.
func NewBroadcaster(state *State, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if state == nil {
		state = NewState(0)
	}
	return &Broadcaster{
		state:  state,
		logger: logger.With("component", "broadcaster"),
	}
}

// State returns the shared broadcast state.
func (b *Broadcaster) State() *State {
	return b.state
}

// AddSink registers sink, which must implement StatusSink, ChatSink or both.
func (b *Broadcaster) AddSink(sink any) error {
	w := &worker{
		wake:  make(chan struct{}, 1),
		chatQ: make(chan ChatEvent, chatQueueSize),
	}
	if s, ok := sink.(StatusSink); ok {
		w.status = s
		w.name = s.Name()
	}
	if c, ok := sink.(ChatSink); ok {
		w.chat = c
		w.name = c.Name()
	}
	if w.status == nil && w.chat == nil {
		return fmt.Errorf("sink %T implements neither StatusSink nor ChatSink", sink)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return ErrRunning
	}
	for _, existing := range b.workers {
		if existing.name == w.name {
			return fmt.Errorf("sink %q already registered", w.name)
		}
	}
	b.workers = append(b.workers, w)
	b.logger.Debug("sink added", "sink", w.name)
	return nil
}

// Publish hands snapshots to every status sink. It never blocks.
func (b *Broadcaster) Publish(snapshots map[string]status.Snapshot) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, w := range b.workers {
		if w.status != nil {
			w.offerStatus(snapshots)
		}
	}
}

// PublishChat records the line and hands it to every chat sink. It never
// blocks; lines are dropped for sinks whose queue is full.
func (b *Broadcaster) PublishChat(agentID, speaker, message string) {
	ev := ChatEvent{
		ID:      uuid.New().String(),
		AgentID: agentID,
		Speaker: speaker,
		Message: message,
		At:      time.Now(),
	}
	b.state.AppendChat(ev)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, w := range b.workers {
		if w.chat == nil {
			continue
		}
		if !w.offerChat(ev) {
			b.logger.Debug("dropped chat for slow sink", "sink", w.name, "agent", agentID, "event_id", ev.ID)
		}
	}
}

// Run starts the sink workers and the re-delivery tick. It blocks until ctx
// is cancelled and every worker has returned. A zero interval disables the tick.
func (b *Broadcaster) Run(ctx context.Context, src Source, interval time.Duration) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return ErrRunning
	}
	b.running = true
	workers := append([]*worker(nil), b.workers...)
	b.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.run(ctx, b.state, b.logger)
		}()
	}

	if src != nil && interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case <-ticker.C:
				b.tick(ctx, src, workers)
			}
		}
	} else {
		<-ctx.Done()
	}

	wg.Wait()
	b.logger.Debug("broadcaster stopped")
	return nil
}

// tick re-delivers fresh snapshots to sinks whose last document differs.
func (b *Broadcaster) tick(ctx context.Context, src Source, workers []*worker) {
	snaps, err := src.Snapshots(ctx)
	if err != nil {
		if ctx.Err() == nil {
			b.logger.Warn("snapshot refresh failed", "error", err)
		}
		return
	}
	for _, w := range workers {
		if w.status != nil && b.state.Differs(w.name, snaps) {
			w.offerStatus(snaps)
		}
	}
}
