// ABOUTME: Tests for the supervisor lifecycle against the simulated world.
// ABOUTME: Covers reconnect discipline, respawn, bootstrap commands, plugins and chat control.

package agent

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-fleet/internal/config"
	"github.com/2389/coven-fleet/internal/plugins"
	"github.com/2389/coven-fleet/internal/protocol"
	"github.com/2389/coven-fleet/internal/protocol/sim"
	"github.com/2389/coven-fleet/internal/status"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type chatLine struct {
	agent, speaker, message string
}

type recordingPublisher struct {
	mu       sync.Mutex
	statuses []map[string]status.Snapshot
	chats    []chatLine
}

func (p *recordingPublisher) Publish(m map[string]status.Snapshot) {
	p.mu.Lock()
	p.statuses = append(p.statuses, m)
	p.mu.Unlock()
}

func (p *recordingPublisher) PublishChat(agent, speaker, message string) {
	p.mu.Lock()
	p.chats = append(p.chats, chatLine{agent, speaker, message})
	p.mu.Unlock()
}

// onlineSequence returns the online flag of agent across publishes with
// consecutive repeats collapsed.
func (p *recordingPublisher) onlineSequence(agent string) []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	var seq []bool
	for _, m := range p.statuses {
		snap, ok := m[agent]
		if !ok {
			continue
		}
		if len(seq) == 0 || seq[len(seq)-1] != snap.Online {
			seq = append(seq, snap.Online)
		}
	}
	return seq
}

func (p *recordingPublisher) chatLines() []chatLine {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]chatLine(nil), p.chats...)
}

// capturingDialer records each connection's handler so tests can inject
// events as if the connection emitted them.
type capturingDialer struct {
	*sim.World
	mu       sync.Mutex
	handlers map[string]protocol.Handler
}

func (d *capturingDialer) Dial(ctx context.Context, opts protocol.DialOptions, h protocol.Handler) (protocol.Client, error) {
	c, err := d.World.Dial(ctx, opts, h)
	if err == nil {
		d.mu.Lock()
		d.handlers[opts.Username] = h
		d.mu.Unlock()
	}
	return c, err
}

func (d *capturingDialer) emit(username string, ev protocol.Event) {
	d.mu.Lock()
	h := d.handlers[username]
	d.mu.Unlock()
	h(ev)
}

type harness struct {
	sup    *Supervisor
	world  *sim.World
	dialer *capturingDialer
	pub    *recordingPublisher
	cancel context.CancelFunc
	done   chan error
}

func testDelays() Delays {
	return Delays{
		Respawn:      10 * time.Millisecond,
		Reconnect:    100 * time.Millisecond,
		SpawnCommand: 10 * time.Millisecond,
		LobbyCommand: 10 * time.Millisecond,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func newHarness(t *testing.T, cfg *config.Config, opts ...Option) *harness {
	t.Helper()
	world := sim.New(sim.Options{ManualSpawn: true})
	dialer := &capturingDialer{World: world, handlers: make(map[string]protocol.Handler)}
	pub := &recordingPublisher{}

	opts = append([]Option{WithDelays(testDelays())}, opts...)
	sup := NewSupervisor(config.Static(cfg), dialer, pub, quietLogger(), opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	h := &harness{sup: sup, world: world, dialer: dialer, pub: pub, cancel: cancel, done: done}
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) startAndSpawn(t *testing.T, name string) *sim.Bot {
	t.Helper()
	require.NoError(t, h.sup.Start(AgentConfig{Username: name, Auth: config.AuthOffline}))
	require.Eventually(t, func() bool { return h.world.Bot(name) != nil }, waitFor, tick)
	bot := h.world.Bot(name)
	bot.Spawn()
	h.waitState(t, name, StateOnline)
	return bot
}

func (h *harness) info(t *testing.T, name string) SessionInfo {
	t.Helper()
	info, err := h.sup.Session(context.Background(), name)
	require.NoError(t, err)
	return info
}

func (h *harness) waitState(t *testing.T, name string, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		info, err := h.sup.Session(context.Background(), name)
		return err == nil && info.State == want
	}, waitFor, tick, "agent %s never reached %s", name, want)
}

func TestState_Transitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateConnecting, StateOnline, true},
		{StateConnecting, StateDisconnected, true},
		{StateOnline, StateDisconnected, true},
		{StateDisconnected, StateReconnecting, true},
		{StateReconnecting, StateConnecting, true},
		{StateOnline, StateConnecting, false},
		{StateOnline, StateReconnecting, false},
		{StateDisconnected, StateOnline, false},
		{StateReconnecting, StateOnline, false},
		{StateReconnecting, StateDisconnected, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
		err := checkTransition(tt.from, tt.to)
		if tt.ok {
			assert.NoError(t, err)
		} else {
			assert.ErrorIs(t, err, ErrIllegalTransition)
		}
	}
}

func TestSupervisor_StartAndSpawn(t *testing.T) {
	h := newHarness(t, &config.Config{})
	h.startAndSpawn(t, "Alice")

	snaps, err := h.sup.Snapshots(context.Background())
	require.NoError(t, err)
	require.Contains(t, snaps, "Alice")
	assert.True(t, snaps["Alice"].Online)
	assert.Equal(t, "Alice", snaps["Alice"].Username)

	assert.Eventually(t, func() bool {
		seq := h.pub.onlineSequence("Alice")
		return len(seq) == 2 && !seq[0] && seq[1]
	}, waitFor, tick, "offline on start, online on spawn")

	info := h.info(t, "Alice")
	assert.True(t, info.Connected)
	assert.Equal(t, uint64(1), info.Generation)
	assert.False(t, info.ConnectedAt.IsZero())
}

func TestSupervisor_DisconnectReconnects(t *testing.T) {
	delays := testDelays()
	delays.Reconnect = 300 * time.Millisecond
	h := newHarness(t, &config.Config{Plugins: config.PluginsConfig{AutoReconnect: true}}, WithDelays(delays))
	bot := h.startAndSpawn(t, "Alice")

	bot.Disconnect("server restarting")
	h.waitState(t, "Alice", StateReconnecting)

	info := h.info(t, "Alice")
	assert.False(t, info.Connected)
	assert.True(t, info.ReconnectPending)
	assert.Equal(t, "server restarting", info.LastDisconnectReason)
	assert.Equal(t, 0, h.world.Live("Alice"))

	require.Eventually(t, func() bool { return h.world.Dials("Alice") == 2 }, waitFor, tick)
	h.waitState(t, "Alice", StateConnecting)
	assert.Equal(t, 1, h.info(t, "Alice").ReconnectAttempts)

	h.world.Bot("Alice").Spawn()
	h.waitState(t, "Alice", StateOnline)
	assert.Equal(t, 1, h.world.Live("Alice"))

	assert.Eventually(t, func() bool {
		seq := h.pub.onlineSequence("Alice")
		return assert.ObjectsAreEqual([]bool{false, true, false, true}, seq)
	}, waitFor, tick)
}

func TestSupervisor_DoubleDisconnectSchedulesOneReconnect(t *testing.T) {
	h := newHarness(t, &config.Config{Plugins: config.PluginsConfig{AutoReconnect: true}})
	h.startAndSpawn(t, "Alice")

	h.dialer.emit("Alice", protocol.Event{Kind: protocol.EventKicked, Reason: "flying"})
	h.dialer.emit("Alice", protocol.Event{Kind: protocol.EventEnd, Reason: "socket closed"})
	h.waitState(t, "Alice", StateReconnecting)

	require.Eventually(t, func() bool { return h.world.Dials("Alice") == 2 }, waitFor, tick)
	time.Sleep(3 * testDelays().Reconnect)
	assert.Equal(t, 2, h.world.Dials("Alice"), "exactly one replacement connection")
	assert.Equal(t, 1, h.info(t, "Alice").ReconnectAttempts)
	assert.Equal(t, "kicked: flying", h.info(t, "Alice").LastDisconnectReason)
}

func TestSupervisor_AtMostOneLiveConnection(t *testing.T) {
	h := newHarness(t, &config.Config{Plugins: config.PluginsConfig{AutoReconnect: true}})
	bot := h.startAndSpawn(t, "Alice")

	for cycle := range 3 {
		bot.Disconnect("cycle")
		require.Eventually(t, func() bool { return h.world.Dials("Alice") == cycle+2 }, waitFor, tick)
		assert.LessOrEqual(t, h.world.Live("Alice"), 1)
		bot = h.world.Bot("Alice")
		bot.Spawn()
		h.waitState(t, "Alice", StateOnline)
		assert.Equal(t, 1, h.world.Live("Alice"))
	}
	assert.Equal(t, 3, h.info(t, "Alice").ReconnectAttempts)
}

func TestSupervisor_NoReconnectWhenDisabled(t *testing.T) {
	h := newHarness(t, &config.Config{})
	bot := h.startAndSpawn(t, "Alice")

	bot.Kick("banned")
	h.waitState(t, "Alice", StateDisconnected)
	time.Sleep(3 * testDelays().Reconnect)

	assert.Equal(t, 1, h.world.Dials("Alice"))
	info := h.info(t, "Alice")
	assert.Equal(t, StateDisconnected, info.State)
	assert.False(t, info.ReconnectPending)

	snaps, err := h.sup.Snapshots(context.Background())
	require.NoError(t, err)
	assert.Equal(t, status.Offline(), snaps["Alice"])
}

func TestSupervisor_DisconnectBeforeSpawn(t *testing.T) {
	h := newHarness(t, &config.Config{Plugins: config.PluginsConfig{AutoReconnect: true}})
	require.NoError(t, h.sup.Start(AgentConfig{Username: "Alice"}))
	require.Eventually(t, func() bool { return h.world.Bot("Alice") != nil }, waitFor, tick)

	h.world.Bot("Alice").Disconnect("timed out")
	h.waitState(t, "Alice", StateReconnecting)
	require.Eventually(t, func() bool { return h.world.Dials("Alice") == 2 }, waitFor, tick)
}

func TestSupervisor_DialFailureRetries(t *testing.T) {
	h := newHarness(t, &config.Config{Plugins: config.PluginsConfig{AutoReconnect: true}})
	h.world.FailDials("Alice", errors.New("connection refused"))

	require.NoError(t, h.sup.Start(AgentConfig{Username: "Alice"}))
	h.waitState(t, "Alice", StateReconnecting)
	assert.Contains(t, h.info(t, "Alice").LastDisconnectReason, "connection refused")

	h.world.FailDials("Alice", nil)
	require.Eventually(t, func() bool { return h.world.Dials("Alice") == 1 }, waitFor, tick)
	h.world.Bot("Alice").Spawn()
	h.waitState(t, "Alice", StateOnline)
}

func TestSupervisor_ProtocolErrorDoesNotReconnect(t *testing.T) {
	h := newHarness(t, &config.Config{Plugins: config.PluginsConfig{AutoReconnect: true}})
	bot := h.startAndSpawn(t, "Alice")

	bot.Fail(errors.New("bad packet"))
	time.Sleep(3 * testDelays().Reconnect)

	assert.Equal(t, StateOnline, h.info(t, "Alice").State)
	assert.Equal(t, 1, h.world.Dials("Alice"))
	assert.False(t, bot.Closed())
}

func TestSupervisor_AutoRespawn(t *testing.T) {
	h := newHarness(t, &config.Config{Plugins: config.PluginsConfig{AutoRespawn: true}})
	bot := h.startAndSpawn(t, "Alice")

	bot.Kill()
	require.Eventually(t, func() bool { return bot.Respawns() == 1 }, waitFor, tick)

	assert.Eventually(t, func() bool {
		snaps, err := h.sup.Snapshots(context.Background())
		return err == nil && snaps["Alice"].Alive != nil && *snaps["Alice"].Alive
	}, waitFor, tick)
	assert.Equal(t, StateOnline, h.info(t, "Alice").State)
}

func TestSupervisor_RespawnDisabled(t *testing.T) {
	h := newHarness(t, &config.Config{})
	bot := h.startAndSpawn(t, "Alice")

	bot.Kill()
	assert.Eventually(t, func() bool {
		snaps, err := h.sup.Snapshots(context.Background())
		return err == nil && snaps["Alice"].Alive != nil && !*snaps["Alice"].Alive
	}, waitFor, tick)
	time.Sleep(5 * testDelays().Respawn)
	assert.Equal(t, 0, bot.Respawns())
}

func TestSupervisor_BootstrapCommands(t *testing.T) {
	h := newHarness(t, &config.Config{Plugins: config.PluginsConfig{AutoSpawnCommand: true}})
	bot := h.startAndSpawn(t, "Alice")

	require.Eventually(t, func() bool { return len(bot.Sent()) == 2 }, waitFor, tick)
	assert.Equal(t, []string{"/spawn", "/lobby"}, bot.Sent())

	// A respawn on the same connection does not replay the sequence.
	bot.Kill()
	require.NoError(t, bot.Respawn())
	time.Sleep(5 * testDelays().SpawnCommand)
	assert.Len(t, bot.Sent(), 2)
}

func TestSupervisor_BootstrapCancelledOnDisconnect(t *testing.T) {
	delays := testDelays()
	delays.SpawnCommand = 80 * time.Millisecond
	h := newHarness(t, &config.Config{Plugins: config.PluginsConfig{AutoSpawnCommand: true}}, WithDelays(delays))
	bot := h.startAndSpawn(t, "Alice")

	bot.Disconnect("gone")
	h.waitState(t, "Alice", StateDisconnected)
	time.Sleep(2 * delays.SpawnCommand)
	assert.Empty(t, bot.Sent())
}

type countingPlugin struct {
	attaches  atomic.Int32
	cancelled atomic.Int32
}

func (p *countingPlugin) Name() string { return "counting" }

func (p *countingPlugin) Attach(ctx context.Context, c protocol.Client) {
	p.attaches.Add(1)
	go func() {
		<-ctx.Done()
		p.cancelled.Add(1)
	}()
}

func TestSupervisor_PluginsAttachOncePerConnection(t *testing.T) {
	plugin := &countingPlugin{}
	factory := func(config.PluginsConfig, *slog.Logger) []plugins.Plugin {
		return []plugins.Plugin{plugin}
	}
	h := newHarness(t, &config.Config{Plugins: config.PluginsConfig{AutoReconnect: true}}, WithPlugins(factory))
	bot := h.startAndSpawn(t, "Alice")
	assert.Equal(t, int32(1), plugin.attaches.Load())

	bot.Kill()
	require.NoError(t, bot.Respawn())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), plugin.attaches.Load(), "respawn keeps the same connection")

	bot.Disconnect("restart")
	require.Eventually(t, func() bool { return plugin.cancelled.Load() == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return h.world.Dials("Alice") == 2 }, waitFor, tick)
	h.world.Bot("Alice").Spawn()
	h.waitState(t, "Alice", StateOnline)
	assert.Equal(t, int32(2), plugin.attaches.Load())
}

func TestSupervisor_ChatForwarded(t *testing.T) {
	h := newHarness(t, &config.Config{})
	bot := h.startAndSpawn(t, "Alice")

	bot.Say("Steve", "hello bots")
	require.Eventually(t, func() bool { return len(h.pub.chatLines()) == 1 }, waitFor, tick)
	assert.Equal(t, chatLine{"Alice", "Steve", "hello bots"}, h.pub.chatLines()[0])
}

func TestSupervisor_SendChat(t *testing.T) {
	h := newHarness(t, &config.Config{})
	ctx := context.Background()

	assert.False(t, h.sup.SendChat(ctx, "", "nobody yet"))

	alice := h.startAndSpawn(t, "Alice")
	require.NoError(t, h.sup.Start(AgentConfig{Username: "Bob"}))
	require.Eventually(t, func() bool { return h.world.Bot("Bob") != nil }, waitFor, tick)

	assert.True(t, h.sup.SendChat(ctx, "", "first agent"))
	assert.True(t, h.sup.SendChat(ctx, "Alice", "named"))
	assert.False(t, h.sup.SendChat(ctx, "Bob", "not spawned"))
	assert.False(t, h.sup.SendChat(ctx, "Mallory", "unknown"))

	assert.Equal(t, []string{"first agent", "named"}, alice.Sent())
	assert.Empty(t, h.world.Bot("Bob").Sent())
}

func TestSupervisor_DuplicateStartIgnored(t *testing.T) {
	h := newHarness(t, &config.Config{})
	h.startAndSpawn(t, "Alice")
	require.NoError(t, h.sup.Start(AgentConfig{Username: "Alice"}))

	infos, err := h.sup.Sessions(context.Background())
	require.NoError(t, err)
	assert.Len(t, infos, 1)
	assert.Equal(t, 1, h.world.Dials("Alice"))
}

func TestSupervisor_StartAll(t *testing.T) {
	h := newHarness(t, &config.Config{})
	assert.Equal(t, 0, h.sup.StartAll())

	legacy := newHarness(t, &config.Config{Account: &config.AccountConfig{Username: "Legacy"}})
	assert.Equal(t, 1, legacy.sup.StartAll())
	require.Eventually(t, func() bool { return legacy.world.Dials("Legacy") == 1 }, waitFor, tick)

	many := newHarness(t, &config.Config{Accounts: []config.AccountConfig{{Username: "A"}, {Username: "B"}}})
	assert.Equal(t, 2, many.sup.StartAll())
	infos := []SessionInfo{}
	require.Eventually(t, func() bool {
		var err error
		infos, err = many.sup.Sessions(context.Background())
		return err == nil && len(infos) == 2
	}, waitFor, tick)
	assert.Equal(t, "A", infos[0].AgentID)
	assert.Equal(t, "B", infos[1].AgentID)
}

func TestSupervisor_UnknownSession(t *testing.T) {
	h := newHarness(t, &config.Config{})
	_, err := h.sup.Session(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestSupervisor_ShutdownClosesConnections(t *testing.T) {
	h := newHarness(t, &config.Config{Plugins: config.PluginsConfig{AutoReconnect: true}})
	bot := h.startAndSpawn(t, "Alice")

	h.cancel()
	require.NoError(t, <-h.done)
	h.done <- nil // let cleanup drain

	assert.True(t, bot.Closed())
	assert.ErrorIs(t, h.sup.Start(AgentConfig{Username: "Bob"}), ErrStopped)
	_, err := h.sup.Snapshots(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, h.sup.Run(context.Background()), ErrAlreadyRunning)
}
