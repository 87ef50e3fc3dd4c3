// ABOUTME: Per-agent session record owned by the supervisor loop.
// ABOUTME: Holds the live connection, its generation, timers and plugin scope.

package agent

import (
	"context"
	"time"

	"github.com/2389/coven-fleet/internal/config"
	"github.com/2389/coven-fleet/internal/plugins"
	"github.com/2389/coven-fleet/internal/protocol"
)

// AgentConfig identifies one agent. Plugin flags are read from the current
// config snapshot when they are needed, not stored here.
type AgentConfig struct {
	Username string
	Auth     string
}

// FromAccount converts a configured account.
func FromAccount(acc config.AccountConfig) AgentConfig {
	return AgentConfig{Username: acc.Username, Auth: acc.Auth}
}

// SessionInfo is a read-only view of a session for diagnostics.
type SessionInfo struct {
	AgentID              string    `json:"agent_id"`
	State                State     `json:"state"`
	Generation           uint64    `json:"generation"`
	Connected            bool      `json:"connected"`
	ReconnectAttempts    int       `json:"reconnect_attempts"`
	ReconnectPending     bool      `json:"reconnect_pending"`
	LastDisconnectReason string    `json:"last_disconnect_reason,omitempty"`
	ConnectedAt          time.Time `json:"connected_at,omitzero"`
}

type session struct {
	id      string
	account AgentConfig

	conn        protocol.Client
	gen         uint64
	state       State
	connectedAt time.Time

	reconnectAttempts int
	lastReason        string

	reconnectTimer *time.Timer
	respawnTimer   *time.Timer
	bootstrapTimer *time.Timer

	// plugin scope of the current connection
	attached     bool
	pluginCancel context.CancelFunc
	chatHandlers []plugins.ChatHandler
}

func newSession(acc AgentConfig) *session {
	return &session{
		id:      acc.Username,
		account: acc,
		state:   StateConnecting,
	}
}

func (s *session) transition(to State) error {
	if err := checkTransition(s.state, to); err != nil {
		return err
	}
	s.state = to
	return nil
}

// release closes the connection and ends everything scoped to it. The
// reconnect timer is left alone.
func (s *session) release() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	if s.pluginCancel != nil {
		s.pluginCancel()
		s.pluginCancel = nil
	}
	s.attached = false
	s.chatHandlers = nil
	stopTimer(&s.respawnTimer)
	stopTimer(&s.bootstrapTimer)
}

func (s *session) info() SessionInfo {
	return SessionInfo{
		AgentID:              s.id,
		State:                s.state,
		Generation:           s.gen,
		Connected:            s.conn != nil,
		ReconnectAttempts:    s.reconnectAttempts,
		ReconnectPending:     s.reconnectTimer != nil,
		LastDisconnectReason: s.lastReason,
		ConnectedAt:          s.connectedAt,
	}
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
