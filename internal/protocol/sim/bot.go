// ABOUTME: Simulated bot implementing protocol.Client plus test hooks.
// ABOUTME: Events are pumped to the handler on a dedicated goroutine.

package sim

import (
	"sync"

	"github.com/2389/coven-fleet/internal/protocol"
)

const (
	eventBuffer = 256
	fullHealth  = 20
)

// Bot is one simulated connection.
type Bot struct {
	world   *World
	opts    protocol.DialOptions
	handler protocol.Handler

	qmu      sync.Mutex
	events   chan protocol.Event
	finished bool
	dropped  int

	mu         sync.Mutex
	spawned    bool
	closed     bool
	entity     protocol.Entity
	dimension  string
	sidebar    *protocol.Objective
	sidebarErr error
	controls   map[protocol.Control]bool
	sent       []string
	respawns   int
}

func newBot(w *World, opts protocol.DialOptions, handler protocol.Handler) *Bot {
	b := &Bot{
		world:     w,
		opts:      opts,
		handler:   handler,
		events:    make(chan protocol.Event, eventBuffer),
		dimension: "minecraft:overworld",
		controls:  make(map[protocol.Control]bool),
		entity: protocol.Entity{
			Health:   fullHealth,
			Food:     fullHealth,
			Position: protocol.Vec3{X: 0.5, Y: 64, Z: 0.5},
		},
	}
	go b.pump()
	return b
}

func (b *Bot) pump() {
	for ev := range b.events {
		b.handler(ev)
	}
}

// emit never blocks: a full queue drops the event. Callers include the
// supervisor loop itself (chat echo, respawn), which must not wait on its
// own mailbox.
func (b *Bot) emit(ev protocol.Event) {
	b.qmu.Lock()
	defer b.qmu.Unlock()
	if b.finished {
		return
	}
	select {
	case b.events <- ev:
	default:
		b.dropped++
		b.world.logger.Debug("sim event queue full, dropping event",
			"username", b.opts.Username, "kind", ev.Kind)
	}
}

// finish stops the event stream. The final event, if any, is queued after
// everything already emitted and is never dropped.
func (b *Bot) finish(last *protocol.Event) {
	b.qmu.Lock()
	defer b.qmu.Unlock()
	if b.finished {
		return
	}
	b.finished = true
	if last == nil {
		close(b.events)
		return
	}
	ev := *last
	select {
	case b.events <- ev:
		close(b.events)
	default:
		// finished is set, so this goroutine is the only remaining sender.
		go func() {
			b.events <- ev
			close(b.events)
		}()
	}
}

// Username implements protocol.Client.
func (b *Bot) Username() string { return b.opts.Username }

// Player implements protocol.Client.
func (b *Bot) Player() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spawned && !b.closed
}

// Entity implements protocol.Client.
func (b *Bot) Entity() *protocol.Entity {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.spawned || b.closed {
		return nil
	}
	e := b.entity
	return &e
}

// Dimension implements protocol.Client.
func (b *Bot) Dimension() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dimension
}

// Sidebar implements protocol.Client.
func (b *Bot) Sidebar() (*protocol.Objective, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sidebarErr != nil {
		return nil, b.sidebarErr
	}
	if b.sidebar == nil {
		return nil, nil
	}
	obj := *b.sidebar
	obj.Scores = append([]protocol.Score(nil), b.sidebar.Scores...)
	return &obj, nil
}

// Chat implements protocol.Client. The server echoes the line to every bot.
func (b *Bot) Chat(message string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return protocol.ErrNotConnected
	}
	b.sent = append(b.sent, message)
	b.mu.Unlock()

	b.world.Broadcast(b.opts.Username, message)
	return nil
}

// Respawn implements protocol.Client.
func (b *Bot) Respawn() error {
	b.mu.Lock()
	if b.closed || !b.spawned {
		b.mu.Unlock()
		return protocol.ErrNotConnected
	}
	b.entity.Health = fullHealth
	b.entity.Food = fullHealth
	b.respawns++
	b.mu.Unlock()

	b.emit(protocol.Event{Kind: protocol.EventSpawn})
	return nil
}

// SetControlState implements protocol.Client.
func (b *Bot) SetControlState(control protocol.Control, active bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return protocol.ErrNotConnected
	}
	b.controls[control] = active
	return nil
}

// Close implements protocol.Client. No end event is emitted for a local close.
func (b *Bot) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.finish(nil)
	return nil
}

// Spawn places the bot in the world and emits spawn.
func (b *Bot) Spawn() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.spawned = true
	b.mu.Unlock()
	b.emit(protocol.Event{Kind: protocol.EventSpawn})
}

// Kill drops health to zero and emits death.
func (b *Bot) Kill() {
	b.mu.Lock()
	if b.closed || !b.spawned {
		b.mu.Unlock()
		return
	}
	b.entity.Health = 0
	b.mu.Unlock()
	b.emit(protocol.Event{Kind: protocol.EventDeath})
}

// Disconnect ends the connection from the server side and emits end.
func (b *Bot) Disconnect(reason string) {
	b.serverClose(protocol.Event{Kind: protocol.EventEnd, Reason: reason})
}

// Kick ends the connection from the server side and emits kicked.
func (b *Bot) Kick(reason string) {
	b.serverClose(protocol.Event{Kind: protocol.EventKicked, Reason: reason})
}

func (b *Bot) serverClose(ev protocol.Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	b.finish(&ev)
}

// Fail emits a non-fatal protocol error.
func (b *Bot) Fail(err error) {
	b.emit(protocol.Event{Kind: protocol.EventError, Err: err})
}

// Say emits a chat line heard by this bot.
func (b *Bot) Say(speaker, message string) {
	b.emit(protocol.Event{Kind: protocol.EventChat, Speaker: speaker, Message: message})
}

// SetHealth sets health and food.
func (b *Bot) SetHealth(health, food float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entity.Health = health
	b.entity.Food = food
}

// MoveTo sets the position.
func (b *Bot) MoveTo(pos protocol.Vec3) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entity.Position = pos
}

// SetDimension sets the raw dimension identifier.
func (b *Bot) SetDimension(dim string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dimension = dim
}

// SetSidebar sets the sidebar objective, or an error returned when reading it.
func (b *Bot) SetSidebar(obj *protocol.Objective, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sidebar = obj
	b.sidebarErr = err
}

// Sent returns the chat lines this bot sent.
func (b *Bot) Sent() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.sent...)
}

// Control reports whether control is currently held.
func (b *Bot) Control(control protocol.Control) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.controls[control]
}

// Respawns returns how many times Respawn succeeded.
func (b *Bot) Respawns() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.respawns
}

// Dropped returns how many events were discarded because the queue was full.
func (b *Bot) Dropped() int {
	b.qmu.Lock()
	defer b.qmu.Unlock()
	return b.dropped
}

// Closed reports whether the connection has ended.
func (b *Bot) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
