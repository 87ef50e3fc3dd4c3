// ABOUTME: Chat-platform status sink: one live notice per active room, edited on a schedule
// ABOUTME: Activating a room replaces and cancels the previous refresh loop

package matrixsink

import (
	"context"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-fleet/internal/config"
	"github.com/2389/coven-fleet/internal/dedupe"
	"github.com/2389/coven-fleet/internal/status"
)

const (
	refreshTimeout = 15 * time.Second
	ackTimeout     = 10 * time.Second
	commandTTL     = 10 * time.Minute
	commandMemory  = 256
)

// Source supplies fresh snapshots for a refresh cycle.
type Source interface {
	Snapshots(ctx context.Context) (map[string]status.Snapshot, error)
}

// target is the room currently showing the status notice.
type target struct {
	room  id.RoomID
	entry cron.EntryID

	mu       sync.Mutex // serialises refresh cycles
	eventID  id.EventID
	lastBody string
}

// Sink maintains the status notice. It is also a status sink for the
// broadcaster so it can fall back to the last published map.
type Sink struct {
	cfg    config.Source
	src    Source
	msg    Messenger
	self   id.UserID
	logger *slog.Logger

	seen  *dedupe.Set
	since time.Time
	sched *cron.Cron

	mu     sync.Mutex
	active *target
	latest map[string]status.Snapshot
}

// New creates a Sink that posts through msg as self. Pass nil logger for
// default.
func New(cfg config.Source, src Source, msg Messenger, self id.UserID, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "matrixsink")
	return &Sink{
		cfg:    cfg,
		src:    src,
		msg:    msg,
		self:   self,
		logger: logger,
		seen:   dedupe.New(commandTTL, commandMemory),
		since:  time.Now(),
		sched:  cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger}))),
		latest: make(map[string]status.Snapshot),
	}
}

// Name identifies the sink in logs.
func (s *Sink) Name() string { return "matrix" }

// DeliverStatus records the latest published map.
func (s *Sink) DeliverStatus(_ context.Context, snapshots map[string]status.Snapshot) error {
	s.mu.Lock()
	s.latest = maps.Clone(snapshots)
	s.mu.Unlock()
	return nil
}

// Run drives the refresh schedule until ctx is cancelled.
func (s *Sink) Run(ctx context.Context) error {
	s.sched.Start()
	<-ctx.Done()

	stopped := s.sched.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(refreshTimeout):
		s.logger.Warn("refresh still running at shutdown")
	}
	return nil
}

// HandleEvent activates the sender's room when evt is the activation command.
func (s *Sink) HandleEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == s.self {
		return
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}

	mcfg := s.cfg.Current().Matrix
	if strings.TrimSpace(content.Body) != mcfg.Command {
		return
	}
	if mcfg.RoomID != "" && evt.RoomID != id.RoomID(mcfg.RoomID) {
		s.logger.Debug("ignoring command from non-allowed room", "room", evt.RoomID.String())
		return
	}
	if evt.Timestamp < s.since.UnixMilli() {
		s.logger.Debug("ignoring command sent before startup", "event_id", evt.ID.String())
		return
	}
	if s.seen.Seen(evt.ID.String()) {
		s.logger.Debug("ignoring redelivered command", "event_id", evt.ID.String())
		return
	}

	s.logger.Info("status command received", "room", evt.RoomID.String(), "sender", evt.Sender.String())
	s.Activate(ctx, evt.RoomID, evt.ID)
}

// Activate makes room the active target. The command event, when given, is
// acknowledged first. Any previous target stops refreshing and its notice is
// left as it was.
func (s *Sink) Activate(ctx context.Context, room id.RoomID, command id.EventID) {
	if command != "" {
		ackCtx, cancel := context.WithTimeout(ctx, ackTimeout)
		if err := s.msg.Acknowledge(ackCtx, room, command); err != nil {
			s.logger.Warn("failed to acknowledge command", "room", room.String(), "error", err)
		}
		cancel()
	}

	t := &target{room: room}
	interval := s.cfg.Current().Matrix.UpdateInterval

	s.mu.Lock()
	prev := s.active
	if prev != nil {
		s.sched.Remove(prev.entry)
	}
	s.active = t
	t.entry = s.sched.Schedule(cron.Every(interval), cron.FuncJob(func() {
		s.refresh(context.Background(), t)
	}))
	s.mu.Unlock()

	if prev != nil {
		s.logger.Info("status target replaced", "previous_room", prev.room.String(), "room", room.String())
	} else {
		s.logger.Info("status target activated", "room", room.String(), "interval", interval)
	}

	s.refresh(ctx, t)
}

// Refresh runs one cycle for the active target, if any.
func (s *Sink) Refresh(ctx context.Context) {
	s.mu.Lock()
	t := s.active
	s.mu.Unlock()
	if t != nil {
		s.refresh(ctx, t)
	}
}

// Active returns the active room and its notice, if one has been created.
func (s *Sink) Active() (id.RoomID, id.EventID, bool) {
	s.mu.Lock()
	t := s.active
	s.mu.Unlock()
	if t == nil {
		return "", "", false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.room, t.eventID, true
}

func (s *Sink) isActive(t *target) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active == t
}

// refresh creates the notice on the first successful cycle and edits it
// afterwards. A failed create is retried next cycle; a failed edit keeps the
// same notice.
func (s *Sink) refresh(ctx context.Context, t *target) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !s.isActive(t) {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	cfg := s.cfg.Current()
	body := Compose(s.snapshots(ctx), Layout{
		AllowWebChat: cfg.Web.AllowWebChat,
		Interval:     cfg.Matrix.UpdateInterval,
	})
	if t.eventID != "" && body == t.lastBody {
		return
	}
	doc, err := Render(body)
	if err != nil {
		s.logger.Error("failed to render status notice", "error", err)
		return
	}

	if t.eventID == "" {
		eventID, err := s.msg.SendDocument(ctx, t.room, doc)
		if err != nil {
			s.logger.Warn("failed to create status notice, retrying next cycle", "room", t.room.String(), "error", err)
			return
		}
		t.eventID = eventID
		t.lastBody = body
		s.logger.Info("status notice created", "room", t.room.String(), "event_id", eventID.String())
		return
	}

	if err := s.msg.EditDocument(ctx, t.room, t.eventID, doc); err != nil {
		s.logger.Warn("failed to edit status notice", "room", t.room.String(), "event_id", t.eventID.String(), "error", err)
		return
	}
	t.lastBody = body
}

func (s *Sink) snapshots(ctx context.Context) map[string]status.Snapshot {
	snaps, err := s.src.Snapshots(ctx)
	if err == nil {
		return snaps
	}
	s.logger.Debug("using last published snapshots", "error", err)
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.latest)
}

// cronLogger adapts slog to the scheduler's logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
