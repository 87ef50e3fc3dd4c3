// ABOUTME: Matrix transport for the status sink, backed by mautrix
// ABOUTME: Sends notices, edits them with m.replace and reacts to commands

package matrixsink

import (
	"context"
	"fmt"
	"log/slog"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-fleet/internal/config"
)

// AckReaction is the reaction placed on an accepted activation command.
const AckReaction = "✅"

// Messenger is the chat-platform surface the sink needs.
type Messenger interface {
	SendDocument(ctx context.Context, room id.RoomID, doc Document) (id.EventID, error)
	EditDocument(ctx context.Context, room id.RoomID, target id.EventID, doc Document) error
	Acknowledge(ctx context.Context, room id.RoomID, command id.EventID) error
}

// MautrixMessenger talks to a homeserver with a mautrix client.
type MautrixMessenger struct {
	client *mautrix.Client
	logger *slog.Logger
}

// NewMautrixMessenger creates a client for the configured account. Pass nil
// logger for default.
func NewMautrixMessenger(cfg config.MatrixConfig, logger *slog.Logger) (*MautrixMessenger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	return &MautrixMessenger{
		client: client,
		logger: logger.With("component", "matrix"),
	}, nil
}

// UserID returns the account the client is logged in as.
func (m *MautrixMessenger) UserID() id.UserID {
	return m.client.UserID
}

// SendDocument posts doc as a new notice.
func (m *MautrixMessenger) SendDocument(ctx context.Context, room id.RoomID, doc Document) (id.EventID, error) {
	resp, err := m.client.SendMessageEvent(ctx, room, event.EventMessage, noticeContent(doc))
	if err != nil {
		return "", fmt.Errorf("sending status notice: %w", err)
	}
	return resp.EventID, nil
}

// EditDocument replaces the content of target with doc.
func (m *MautrixMessenger) EditDocument(ctx context.Context, room id.RoomID, target id.EventID, doc Document) error {
	content := noticeContent(doc)
	content.SetEdit(target)
	if _, err := m.client.SendMessageEvent(ctx, room, event.EventMessage, content); err != nil {
		return fmt.Errorf("editing status notice %s: %w", target, err)
	}
	return nil
}

// Acknowledge reacts to the command event.
func (m *MautrixMessenger) Acknowledge(ctx context.Context, room id.RoomID, command id.EventID) error {
	if _, err := m.client.SendReaction(ctx, room, command, AckReaction); err != nil {
		return fmt.Errorf("reacting to %s: %w", command, err)
	}
	return nil
}

// Sync delivers room messages to handle until ctx is cancelled.
func (m *MautrixMessenger) Sync(ctx context.Context, handle func(ctx context.Context, evt *event.Event)) error {
	syncer, ok := m.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", m.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, handle)

	m.logger.Info("connecting to matrix homeserver", "user_id", m.client.UserID.String())
	err := m.client.SyncWithContext(ctx)
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("matrix sync failed: %w", err)
	}
	return nil
}

func noticeContent(doc Document) *event.MessageEventContent {
	return &event.MessageEventContent{
		MsgType:       event.MsgNotice,
		Body:          doc.Body,
		Format:        event.FormatHTML,
		FormattedBody: doc.HTML,
	}
}
