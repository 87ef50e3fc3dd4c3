// ABOUTME: Supervisor event loop that owns every agent session.
// ABOUTME: Drives connect, plugin attachment, respawn and reconnect from a single mailbox.

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/2389/coven-fleet/internal/config"
	"github.com/2389/coven-fleet/internal/plugins"
	"github.com/2389/coven-fleet/internal/protocol"
	"github.com/2389/coven-fleet/internal/status"
)

const mailboxSize = 256

// ErrStopped indicates the supervisor loop has exited.
var ErrStopped = errors.New("supervisor stopped")

// ErrUnknownAgent indicates no session exists for the agent.
var ErrUnknownAgent = errors.New("unknown agent")

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("supervisor already running")

// bootstrapCommands run in order after the first spawn of a connection.
var bootstrapCommands = []string{"/spawn", "/lobby"}

// Publisher receives status and chat updates. Both calls must return without
// blocking; they are made from the supervisor loop.
type Publisher interface {
	Publish(snapshots map[string]status.Snapshot)
	PublishChat(agentID, speaker, message string)
}

// Delays are the fixed waits used by the lifecycle.
type Delays struct {
	Respawn      time.Duration
	Reconnect    time.Duration
	SpawnCommand time.Duration
	LobbyCommand time.Duration
}

// DefaultDelays returns the production delays.
func DefaultDelays() Delays {
	return Delays{
		Respawn:      1500 * time.Millisecond,
		Reconnect:    10 * time.Second,
		SpawnCommand: 5 * time.Second,
		LobbyCommand: 3 * time.Second,
	}
}

// PluginFactory builds the plugins for one connection from a config snapshot.
type PluginFactory func(cfg config.PluginsConfig, logger *slog.Logger) []plugins.Plugin

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithDelays overrides the lifecycle delays.
func WithDelays(d Delays) Option {
	return func(s *Supervisor) { s.delays = d }
}

// WithPlugins overrides how plugins are built for a connection.
func WithPlugins(f PluginFactory) Option {
	return func(s *Supervisor) { s.pluginsFor = f }
}

// Supervisor owns one session per agent. All session state is confined to
// the goroutine running Run.
type Supervisor struct {
	cfg        config.Source
	dialer     protocol.Dialer
	pub        Publisher
	logger     *slog.Logger
	delays     Delays
	pluginsFor PluginFactory

	mailbox chan input
	done    chan struct{}
	running atomic.Bool

	// loop-owned
	ctx      context.Context
	sessions map[string]*session
	order    []string
}

// NewSupervisor creates a Supervisor. Pass nil logger for default.
func NewSupervisor(cfg config.Source, dialer protocol.Dialer, pub Publisher, logger *slog.Logger, opts ...Option) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = nopPublisher{}
	}
	s := &Supervisor{
		cfg:        cfg,
		dialer:     dialer,
		pub:        pub,
		logger:     logger.With("component", "supervisor"),
		delays:     DefaultDelays(),
		pluginsFor: plugins.Enabled,
		mailbox:    make(chan input, mailboxSize),
		done:       make(chan struct{}),
		sessions:   make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run processes the mailbox until ctx is cancelled, then closes every
// connection and stops every timer.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.done)

	s.ctx = ctx
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case in := <-s.mailbox:
			s.dispatch(in)
		}
	}
}

// Start enqueues creation of one session and its first connection.
func (s *Supervisor) Start(acc AgentConfig) error {
	return s.enqueue(cmdStart{account: acc})
}

// StartAll starts every configured account and returns how many were queued.
func (s *Supervisor) StartAll() int {
	accounts := s.cfg.Current().AgentAccounts()
	if len(accounts) == 0 {
		s.logger.Error("no accounts configured")
		return 0
	}
	n := 0
	for _, acc := range accounts {
		if err := s.Start(FromAccount(acc)); err != nil {
			s.logger.Error("failed to start agent", "agent", acc.Username, "error", err)
			continue
		}
		n++
	}
	return n
}

// Snapshots returns the live status of every agent.
func (s *Supervisor) Snapshots(ctx context.Context) (map[string]status.Snapshot, error) {
	reply := make(chan map[string]status.Snapshot, 1)
	if err := s.enqueueCtx(ctx, cmdSnapshots{reply: reply}); err != nil {
		return nil, err
	}
	return await(ctx, s.done, reply)
}

// Sessions returns diagnostic info for every session in start order.
func (s *Supervisor) Sessions(ctx context.Context) ([]SessionInfo, error) {
	reply := make(chan []SessionInfo, 1)
	if err := s.enqueueCtx(ctx, cmdSessions{reply: reply}); err != nil {
		return nil, err
	}
	return await(ctx, s.done, reply)
}

// Session returns diagnostic info for one agent.
func (s *Supervisor) Session(ctx context.Context, agentID string) (SessionInfo, error) {
	all, err := s.Sessions(ctx)
	if err != nil {
		return SessionInfo{}, err
	}
	for _, info := range all {
		if info.AgentID == agentID {
			return info, nil
		}
	}
	return SessionInfo{}, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
}

// SendChat says message as agentID, or as the first started agent when
// agentID is empty. It reports false when the agent is unknown or offline.
func (s *Supervisor) SendChat(ctx context.Context, agentID, message string) bool {
	reply := make(chan bool, 1)
	if err := s.enqueueCtx(ctx, cmdSendChat{agentID: agentID, message: message, reply: reply}); err != nil {
		return false
	}
	ok, err := await(ctx, s.done, reply)
	return err == nil && ok
}

func (s *Supervisor) enqueue(in input) error {
	if s.stopped() {
		return ErrStopped
	}
	select {
	case s.mailbox <- in:
		return nil
	case <-s.done:
		return ErrStopped
	}
}

func (s *Supervisor) enqueueCtx(ctx context.Context, in input) error {
	if s.stopped() {
		return ErrStopped
	}
	select {
	case s.mailbox <- in:
		return nil
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func await[T any](ctx context.Context, done <-chan struct{}, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-done:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (s *Supervisor) dispatch(in input) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("supervisor input panicked", "input", fmt.Sprintf("%T", in), "panic", r)
		}
	}()

	switch in := in.(type) {
	case cmdStart:
		s.handleStart(in.account)
	case cmdSnapshots:
		in.reply <- s.snapshots()
	case cmdSessions:
		infos := make([]SessionInfo, 0, len(s.order))
		for _, id := range s.order {
			infos = append(infos, s.sessions[id].info())
		}
		in.reply <- infos
	case cmdSendChat:
		in.reply <- s.handleSendChat(in.agentID, in.message)
	case evProtocol:
		s.handleProtocol(in)
	case evReconnectDue:
		s.handleReconnectDue(in)
	case evRespawnDue:
		s.handleRespawnDue(in)
	case evBootstrapDue:
		s.handleBootstrapDue(in)
	}
}

func (s *Supervisor) handleStart(acc AgentConfig) {
	if _, exists := s.sessions[acc.Username]; exists {
		s.logger.Warn("agent already started", "agent", acc.Username)
		return
	}
	sess := newSession(acc)
	s.sessions[sess.id] = sess
	s.order = append(s.order, sess.id)
	s.logger.Info("starting agent", "agent", sess.id, "total_agents", len(s.order))

	s.connect(sess)
	s.publish()
}

// connect dials a new connection for sess, which must be in connecting.
func (s *Supervisor) connect(sess *session) {
	sess.gen++
	gen := sess.gen
	id := sess.id

	server := s.cfg.Current().Server
	opts := protocol.DialOptions{
		Host:     server.Host,
		Port:     server.Port,
		Version:  server.Version,
		Username: sess.account.Username,
		Auth:     sess.account.Auth,
	}

	conn, err := s.dialer.Dial(s.ctx, opts, func(ev protocol.Event) {
		_ = s.enqueue(evProtocol{agentID: id, gen: gen, event: ev})
	})
	if err != nil {
		s.logger.Error("dial failed", "agent", id, "generation", gen, "error", err)
		s.lost(sess, err.Error())
		return
	}
	sess.conn = conn
	sess.connectedAt = time.Now()
	s.logger.Debug("dialing", "agent", id, "generation", gen, "host", server.Host, "port", server.Port)
}

func (s *Supervisor) handleProtocol(in evProtocol) {
	sess, ok := s.sessions[in.agentID]
	if !ok || in.gen != sess.gen || sess.conn == nil {
		s.logger.Debug("dropping stale event", "agent", in.agentID, "generation", in.gen, "kind", in.event.Kind)
		return
	}

	switch in.event.Kind {
	case protocol.EventSpawn:
		s.handleSpawn(sess)
	case protocol.EventDeath:
		s.handleDeath(sess)
	case protocol.EventChat:
		for _, h := range sess.chatHandlers {
			h.HandleChat(sess.account.Username, in.event.Speaker, in.event.Message)
		}
		s.pub.PublishChat(sess.id, in.event.Speaker, in.event.Message)
	case protocol.EventKicked, protocol.EventEnd:
		s.handleDisconnect(sess, in.event)
	case protocol.EventError:
		s.logger.Error("protocol error", "agent", sess.id, "error", in.event.Err)
	}
}

func (s *Supervisor) handleSpawn(sess *session) {
	if sess.state == StateConnecting {
		if err := sess.transition(StateOnline); err != nil {
			s.logger.Error("spawn transition rejected", "agent", sess.id, "error", err)
			return
		}
		s.logger.Info("=== AGENT ONLINE ===", "agent", sess.id, "generation", sess.gen)
	}

	if !sess.attached {
		s.attach(sess)
	}
	s.publish()
}

// attach starts the enabled plugins for the current connection. It runs at
// most once per connection.
func (s *Supervisor) attach(sess *session) {
	cfg := s.cfg.Current()
	ctx, cancel := context.WithCancel(s.ctx)
	sess.pluginCancel = cancel
	sess.attached = true

	for _, p := range s.pluginsFor(cfg.Plugins, s.logger) {
		p.Attach(ctx, sess.conn)
		if h, ok := p.(plugins.ChatHandler); ok {
			sess.chatHandlers = append(sess.chatHandlers, h)
		}
		s.logger.Debug("plugin attached", "agent", sess.id, "plugin", p.Name())
	}

	if cfg.Plugins.AutoSpawnCommand {
		s.scheduleBootstrap(sess, 0, s.delays.SpawnCommand)
	}
}

func (s *Supervisor) scheduleBootstrap(sess *session, step int, after time.Duration) {
	in := evBootstrapDue{agentID: sess.id, gen: sess.gen, step: step}
	stopTimer(&sess.bootstrapTimer)
	sess.bootstrapTimer = time.AfterFunc(after, func() { _ = s.enqueue(in) })
}

func (s *Supervisor) handleBootstrapDue(in evBootstrapDue) {
	sess, ok := s.sessions[in.agentID]
	if !ok || in.gen != sess.gen || sess.conn == nil {
		return
	}
	sess.bootstrapTimer = nil

	cmd := bootstrapCommands[in.step]
	if err := sess.conn.Chat(cmd); err != nil {
		s.logger.Warn("bootstrap command failed", "agent", sess.id, "command", cmd, "error", err)
	}
	if next := in.step + 1; next < len(bootstrapCommands) {
		s.scheduleBootstrap(sess, next, s.delays.LobbyCommand)
	}
}

func (s *Supervisor) handleDeath(sess *session) {
	s.publish()
	if !s.cfg.Current().Plugins.AutoRespawn {
		return
	}
	s.logger.Info("agent died, respawning", "agent", sess.id)
	in := evRespawnDue{agentID: sess.id, gen: sess.gen}
	stopTimer(&sess.respawnTimer)
	sess.respawnTimer = time.AfterFunc(s.delays.Respawn, func() { _ = s.enqueue(in) })
}

func (s *Supervisor) handleRespawnDue(in evRespawnDue) {
	sess, ok := s.sessions[in.agentID]
	if !ok || in.gen != sess.gen || sess.conn == nil {
		return
	}
	sess.respawnTimer = nil
	if err := sess.conn.Respawn(); err != nil {
		s.logger.Warn("respawn failed", "agent", sess.id, "error", err)
	}
}

func (s *Supervisor) handleDisconnect(sess *session, ev protocol.Event) {
	if sess.state == StateDisconnected || sess.state == StateReconnecting {
		s.logger.Debug("disconnect ignored, already down", "agent", sess.id, "state", sess.state)
		return
	}
	reason := ev.Reason
	if ev.Kind == protocol.EventKicked {
		reason = "kicked: " + reason
	}
	s.lost(sess, reason)
}

// lost moves a connecting or online session to disconnected, publishes the
// offline state and arms the reconnect timer when enabled.
func (s *Supervisor) lost(sess *session, reason string) {
	sess.release()
	if err := sess.transition(StateDisconnected); err != nil {
		s.logger.Error("disconnect transition rejected", "agent", sess.id, "error", err)
		return
	}
	sess.lastReason = reason
	s.logger.Info("=== AGENT DISCONNECTED ===", "agent", sess.id, "generation", sess.gen, "reason", reason)
	s.publish()

	if !s.cfg.Current().Plugins.AutoReconnect {
		s.logger.Info("auto reconnect disabled, agent stays offline", "agent", sess.id)
		return
	}
	if sess.reconnectTimer != nil {
		return
	}
	if err := sess.transition(StateReconnecting); err != nil {
		s.logger.Error("reconnect transition rejected", "agent", sess.id, "error", err)
		return
	}
	in := evReconnectDue{agentID: sess.id, gen: sess.gen}
	sess.reconnectTimer = time.AfterFunc(s.delays.Reconnect, func() { _ = s.enqueue(in) })
	s.logger.Info("reconnect scheduled", "agent", sess.id, "in", s.delays.Reconnect)
}

func (s *Supervisor) handleReconnectDue(in evReconnectDue) {
	sess, ok := s.sessions[in.agentID]
	if !ok || sess.reconnectTimer == nil || in.gen != sess.gen {
		return
	}
	sess.reconnectTimer = nil
	if err := sess.transition(StateConnecting); err != nil {
		s.logger.Error("reconnect transition rejected", "agent", sess.id, "error", err)
		return
	}
	sess.reconnectAttempts++
	s.logger.Info("reconnecting agent", "agent", sess.id, "attempt", sess.reconnectAttempts)
	s.connect(sess)
	s.publish()
}

func (s *Supervisor) handleSendChat(agentID, message string) bool {
	if agentID == "" {
		if len(s.order) == 0 {
			return false
		}
		agentID = s.order[0]
	}
	sess, ok := s.sessions[agentID]
	if !ok || sess.conn == nil || !sess.conn.Player() {
		return false
	}
	if err := sess.conn.Chat(message); err != nil {
		s.logger.Warn("chat send failed", "agent", agentID, "error", err)
		return false
	}
	return true
}

func (s *Supervisor) snapshots() map[string]status.Snapshot {
	opts := status.Options{ScoreboardLines: s.cfg.Current().Matrix.ScoreboardMaxLines}
	out := make(map[string]status.Snapshot, len(s.sessions))
	for id, sess := range s.sessions {
		out[id] = status.Aggregate(sess.conn, opts)
	}
	return out
}

func (s *Supervisor) publish() {
	s.pub.Publish(s.snapshots())
}

func (s *Supervisor) shutdown() {
	for _, id := range s.order {
		sess := s.sessions[id]
		stopTimer(&sess.reconnectTimer)
		sess.release()
	}
	s.logger.Info("supervisor stopped", "total_agents", len(s.order))
}

type nopPublisher struct{}

func (nopPublisher) Publish(map[string]status.Snapshot) {}
func (nopPublisher) PublishChat(string, string, string) {}
