// ABOUTME: Chat record model and the ChatStore interface
// ABOUTME: Implemented by SQLiteStore and MockStore

package store

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// ChatRecord is one chat line heard by an agent.
type ChatRecord struct {
	ID        string
	AgentID   string
	Speaker   string
	Message   string
	CreatedAt time.Time
}

// ChatStore persists chat records.
type ChatStore interface {
	AppendChat(ctx context.Context, rec *ChatRecord) error
	// RecentChat returns up to limit of the newest records for agentID,
	// oldest first. A limit of zero or less returns every record.
	RecentChat(ctx context.Context, agentID string, limit int) ([]*ChatRecord, error)
	Close() error
}
