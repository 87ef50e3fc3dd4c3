// ABOUTME: Web dashboard sink: socket.io push of bots and chat events
// ABOUTME: Also handles sendMessage from browsers through the fleet controller

package websink

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	socket "github.com/zishang520/socket.io/servers/socket/v3"
	sockettypes "github.com/zishang520/socket.io/v3/pkg/types"
	"tailscale.com/tsnet"

	"github.com/2389/coven-fleet/internal/agent"
	"github.com/2389/coven-fleet/internal/broadcast"
	"github.com/2389/coven-fleet/internal/config"
	"github.com/2389/coven-fleet/internal/status"
)

const (
	// EventBots carries the full agent map.
	EventBots = "bots"
	// EventChat carries one chat line.
	EventChat = "chat"
	// EventSendMessage is sent by browsers to speak through an agent.
	EventSendMessage = "sendMessage"

	socketPath         = "/socket.io"
	socketPingInterval = 10 * time.Second
	socketPingTimeout  = 20 * time.Second

	// fleetTimeout bounds calls into the supervisor from request handlers.
	fleetTimeout = 3 * time.Second
)

// Fleet is the supervisor surface the dashboard reads and controls.
type Fleet interface {
	Snapshots(ctx context.Context) (map[string]status.Snapshot, error)
	Sessions(ctx context.Context) ([]agent.SessionInfo, error)
	SendChat(ctx context.Context, agentID, message string) bool
}

// ChatLog supplies the recent chat of an agent.
type ChatLog interface {
	Chat(agentID string) []broadcast.ChatEvent
}

// BotStatus is one entry of the bots map.
type BotStatus struct {
	status.Snapshot
	AllowWebChat bool `json:"allowWebChat"`
}

// ChatMessage is the payload of a chat event. Username names the agent that
// heard the line.
type ChatMessage struct {
	Username string `json:"username"`
	Speaker  string `json:"speaker"`
	Message  string `json:"message"`
}

type emitFunc func(event string, payload any)

// Server is the web dashboard. It is a status and chat sink for the
// broadcaster and serves HTTP on its own listener.
type Server struct {
	cfg    config.Source
	fleet  Fleet
	chat   ChatLog
	logger *slog.Logger

	io     *socket.Server
	router *gin.Engine

	clients sync.Map // socket id -> emitFunc

	mu     sync.RWMutex
	latest map[string]status.Snapshot

	httpServer *http.Server
	tsServer   *tsnet.Server
}

// New creates the dashboard server. Pass nil logger for default.
func New(cfg config.Source, fleet Fleet, chat ChatLog, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		fleet:  fleet,
		chat:   chat,
		logger: logger.With("component", "websink"),
		latest: make(map[string]status.Snapshot),
	}

	opts := socket.DefaultServerOptions()
	opts.SetCors(&sockettypes.Cors{
		Origin:      "*",
		Credentials: false,
	})
	opts.SetPingInterval(socketPingInterval)
	opts.SetPingTimeout(socketPingTimeout)
	opts.SetPath(socketPath)
	s.io = socket.NewServer(nil, opts)
	s.io.On("connection", func(clients ...any) {
		if len(clients) == 0 {
			return
		}
		client, ok := clients[0].(*socket.Socket)
		if !ok {
			return
		}
		s.handleConnection(client)
	})

	s.router = s.routes()
	return s
}

// Name identifies the sink in logs.
func (s *Server) Name() string { return "web" }

// DeliverStatus pushes the bots map to every connected browser.
func (s *Server) DeliverStatus(_ context.Context, snapshots map[string]status.Snapshot) error {
	s.mu.Lock()
	s.latest = maps.Clone(snapshots)
	s.mu.Unlock()

	s.broadcast(EventBots, s.botsPayload(snapshots))
	return nil
}

// DeliverChat pushes one chat line to every connected browser.
func (s *Server) DeliverChat(_ context.Context, ev broadcast.ChatEvent) error {
	s.broadcast(EventChat, ChatMessage{
		Username: ev.AgentID,
		Speaker:  ev.Speaker,
		Message:  ev.Message,
	})
	return nil
}

// Clients returns the number of connected browsers.
func (s *Server) Clients() int {
	n := 0
	s.clients.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (s *Server) handleConnection(client *socket.Socket) {
	id := string(client.Id())
	client.On(EventSendMessage, func(data ...any) {
		s.handleSendMessage(context.Background(), data)
	})
	client.On("disconnect", func(data ...any) {
		reason := ""
		if len(data) > 0 {
			if r, ok := data[0].(string); ok {
				reason = r
			}
		}
		s.disconnect(id, reason)
	})
	s.connect(id, func(event string, payload any) {
		client.Emit(event, payload)
	})
}

// connect registers a browser and sends it the current state. Chat history
// is not replayed; the page fetches it over HTTP.
func (s *Server) connect(id string, emit emitFunc) {
	s.clients.Store(id, emit)
	s.logger.Debug("dashboard client connected", "socket_id", id)

	ctx, cancel := context.WithTimeout(context.Background(), fleetTimeout)
	defer cancel()
	emit(EventBots, s.botsPayload(s.current(ctx)))
}

func (s *Server) disconnect(id, reason string) {
	s.clients.Delete(id)
	s.logger.Debug("dashboard client disconnected", "socket_id", id, "reason", reason)
}

func (s *Server) broadcast(event string, payload any) {
	s.clients.Range(func(key, value any) bool {
		emit, ok := value.(emitFunc)
		if !ok {
			return true
		}
		emit(event, payload)
		return true
	})
}

func (s *Server) handleSendMessage(ctx context.Context, data []any) {
	raw := firstPayload(data)
	if raw == nil {
		return
	}
	var req SendRequest
	if err := decodeAny(raw, &req); err != nil {
		s.logger.Debug("dropping malformed sendMessage", "error", err)
		return
	}
	text, ok := ValidateSend(s.cfg.Current().Web.AllowWebChat, req)
	if !ok {
		s.logger.Debug("dropping sendMessage", "username", req.Username)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, fleetTimeout)
	defer cancel()
	if !s.fleet.SendChat(ctx, req.Username, text) {
		s.logger.Debug("sendMessage target unavailable", "username", req.Username)
	}
}

// current returns fresh snapshots, or the last delivered map when the
// supervisor cannot answer.
func (s *Server) current(ctx context.Context) map[string]status.Snapshot {
	snaps, err := s.fleet.Snapshots(ctx)
	if err == nil {
		return snaps
	}
	s.logger.Debug("using cached snapshots", "error", err)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.latest)
}

func (s *Server) botsPayload(snaps map[string]status.Snapshot) map[string]BotStatus {
	allow := s.cfg.Current().Web.AllowWebChat
	out := make(map[string]BotStatus, len(snaps))
	for id, snap := range snaps {
		if snap.Online && snap.Username == "" {
			snap.Username = id
		}
		out[id] = BotStatus{Snapshot: snap, AllowWebChat: allow}
	}
	return out
}

// firstPayload returns the first event argument, ignoring a trailing ack.
func firstPayload(data []any) any {
	if len(data) == 0 {
		return nil
	}
	switch data[0].(type) {
	case func(...any), socket.Ack:
		return nil
	}
	return data[0]
}

func decodeAny(input any, out any) error {
	raw, err := json.Marshal(input)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
