// ABOUTME: Game protocol client capabilities and lifecycle events.
// ABOUTME: The supervisor consumes these; drivers implement Dialer and Client.

package protocol

import (
	"context"
	"errors"
)

// ErrNotConnected is returned by Client methods once the connection is gone.
var ErrNotConnected = errors.New("protocol: not connected")

// Vec3 is a world position.
type Vec3 struct {
	X, Y, Z float64
}

// Entity is the gameplay view of the agent's avatar.
type Entity struct {
	Health   float64
	Food     float64
	Position Vec3
}

// Score is one sidebar line.
type Score struct {
	Name  string
	Value int
}

// Objective is the sidebar scoreboard objective. Scores are in source order.
type Objective struct {
	Name        string
	DisplayName string
	Scores      []Score
}

// Control is a movement control that can be held down.
type Control string

const (
	ControlForward Control = "forward"
	ControlBack    Control = "back"
	ControlLeft    Control = "left"
	ControlRight   Control = "right"
	ControlJump    Control = "jump"
)

// MoveControls lists the directional controls used for wandering.
var MoveControls = []Control{ControlForward, ControlBack, ControlLeft, ControlRight}

// Client is a single live connection for one agent.
type Client interface {
	Username() string
	// Player reports whether the server has assigned a player record.
	Player() bool
	// Entity returns nil before the first spawn.
	Entity() *Entity
	Dimension() string
	// Sidebar returns nil with no error when no sidebar objective is shown.
	Sidebar() (*Objective, error)
	Chat(message string) error
	Respawn() error
	SetControlState(control Control, active bool) error
	// Close ends the connection. It is safe to call more than once.
	Close() error
}

// EventKind identifies a lifecycle event.
type EventKind string

const (
	EventSpawn  EventKind = "spawn"
	EventDeath  EventKind = "death"
	EventChat   EventKind = "chat"
	EventKicked EventKind = "kicked"
	EventEnd    EventKind = "end"
	EventError  EventKind = "error"
)

// Event is emitted by a connection. Speaker and Message are set for chat;
// Reason for kicked and end; Err for error.
type Event struct {
	Kind    EventKind
	Speaker string
	Message string
	Reason  string
	Err     error
}

// Disconnect reports whether the event ends the connection.
func (e Event) Disconnect() bool {
	return e.Kind == EventKicked || e.Kind == EventEnd
}

// Handler receives events for one connection, in emission order.
type Handler func(Event)

// DialOptions describe the connection to open.
type DialOptions struct {
	Host     string
	Port     int
	Username string
	Auth     string
	Version  string
}

// Dialer opens connections. Dial returns once the attempt is underway; the
// outcome arrives through the handler as spawn, end, kicked or error events.
type Dialer interface {
	Dial(ctx context.Context, opts DialOptions, handler Handler) (Client, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, opts DialOptions, handler Handler) (Client, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, opts DialOptions, handler Handler) (Client, error) {
	return f(ctx, opts, handler)
}
