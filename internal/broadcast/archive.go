// ABOUTME: Chat sink that persists chat lines to a ChatStore.
// ABOUTME: Also seeds the in-memory chat log from the store at startup.

package broadcast

import (
	"context"
	"fmt"

	"github.com/2389/coven-fleet/internal/store"
)

// ArchiveSink writes every chat line to a store.
type ArchiveSink struct {
	store store.ChatStore
}

// NewArchiveSink creates a sink writing to s.
func NewArchiveSink(s store.ChatStore) *ArchiveSink {
	return &ArchiveSink{store: s}
}

func (a *ArchiveSink) Name() string { return "archive" }

func (a *ArchiveSink) DeliverChat(ctx context.Context, ev ChatEvent) error {
	return a.store.AppendChat(ctx, &store.ChatRecord{
		ID:        ev.ID,
		AgentID:   ev.AgentID,
		Speaker:   ev.Speaker,
		Message:   ev.Message,
		CreatedAt: ev.At,
	})
}

// SeedFromStore loads the recent chat of each agent into state.
func SeedFromStore(ctx context.Context, state *State, s store.ChatStore, agentIDs []string) error {
	for _, id := range agentIDs {
		recs, err := s.RecentChat(ctx, id, state.chatCap)
		if err != nil {
			return fmt.Errorf("loading chat for %s: %w", id, err)
		}
		events := make([]ChatEvent, len(recs))
		for i, rec := range recs {
			events[i] = ChatEvent{
				ID:      rec.ID,
				AgentID: rec.AgentID,
				Speaker: rec.Speaker,
				Message: rec.Message,
				At:      rec.CreatedAt,
			}
		}
		state.Seed(id, events)
	}
	return nil
}
