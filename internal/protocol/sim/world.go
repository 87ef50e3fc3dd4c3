// ABOUTME: Simulated world tracking every dialed bot by username.
// ABOUTME: Registers itself as the "sim" protocol driver.

package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-fleet/internal/protocol"
)

// DriverName is the name the default world registers under.
const DriverName = "sim"

func init() {
	protocol.Register(DriverName, New(Options{SpawnDelay: 500 * time.Millisecond}))
}

// Options tune world behavior.
type Options struct {
	// SpawnDelay is how long after Dial a bot spawns.
	SpawnDelay time.Duration
	// ManualSpawn disables automatic spawning; tests call Bot.Spawn.
	ManualSpawn bool
	// Logger receives dropped-event notices. Defaults to slog.Default().
	Logger *slog.Logger
}

// World hands out bots and keeps every bot it ever created.
type World struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	bots    map[string][]*Bot
	dialErr map[string]error
}

// New creates an empty world.
func New(opts Options) *World {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &World{
		opts:    opts,
		logger:  logger.With("component", "sim"),
		bots:    make(map[string][]*Bot),
		dialErr: make(map[string]error),
	}
}

// Dial creates a bot for opts.Username. The spawn event follows asynchronously.
func (w *World) Dial(ctx context.Context, opts protocol.DialOptions, handler protocol.Handler) (protocol.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("sim: dial %s: nil handler", opts.Username)
	}

	w.mu.Lock()
	if err := w.dialErr[opts.Username]; err != nil {
		w.mu.Unlock()
		return nil, fmt.Errorf("sim: dial %s: %w", opts.Username, err)
	}
	b := newBot(w, opts, handler)
	w.bots[opts.Username] = append(w.bots[opts.Username], b)
	w.mu.Unlock()

	if !w.opts.ManualSpawn {
		time.AfterFunc(w.opts.SpawnDelay, b.Spawn)
	}
	return b, nil
}

// FailDials makes every later Dial for username return err. Pass nil to clear.
func (w *World) FailDials(username string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err == nil {
		delete(w.dialErr, username)
		return
	}
	w.dialErr[username] = err
}

// Bot returns the most recently dialed bot for username, or nil.
func (w *World) Bot(username string) *Bot {
	w.mu.Lock()
	defer w.mu.Unlock()
	list := w.bots[username]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

// Dials returns how many connections were opened for username.
func (w *World) Dials(username string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.bots[username])
}

// Live returns how many connections for username are still open.
func (w *World) Live(username string) int {
	w.mu.Lock()
	list := append([]*Bot(nil), w.bots[username]...)
	w.mu.Unlock()

	n := 0
	for _, b := range list {
		if !b.Closed() {
			n++
		}
	}
	return n
}

// Broadcast delivers a chat line from speaker to every spawned, open bot.
func (w *World) Broadcast(speaker, message string) {
	w.mu.Lock()
	var targets []*Bot
	for _, list := range w.bots {
		targets = append(targets, list...)
	}
	w.mu.Unlock()

	for _, b := range targets {
		if b.Player() {
			b.Say(speaker, message)
		}
	}
}
