// ABOUTME: Shared broadcast state: last document delivered per sink and per-agent chat logs.
// ABOUTME: Safe for concurrent use by workers, the tick and HTTP readers.

package broadcast

import (
	"reflect"
	"sync"
	"time"

	"github.com/2389/coven-fleet/internal/status"
)

// DefaultChatLogSize is the number of chat lines kept per agent.
const DefaultChatLogSize = 200

// ChatEvent is one chat line heard by an agent.
type ChatEvent struct {
	ID      string    `json:"id"`
	AgentID string    `json:"agent_id"`
	Speaker string    `json:"speaker"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// State records what each sink last received and the recent chat per agent.
type State struct {
	mu       sync.RWMutex
	chatCap  int
	chat     map[string][]ChatEvent
	lastSent map[string]map[string]status.Snapshot
}

// NewState creates a State keeping chatCap lines per agent. Zero or less
// uses DefaultChatLogSize.
func NewState(chatCap int) *State {
	if chatCap <= 0 {
		chatCap = DefaultChatLogSize
	}
	return &State{
		chatCap:  chatCap,
		chat:     make(map[string][]ChatEvent),
		lastSent: make(map[string]map[string]status.Snapshot),
	}
}

// AppendChat adds ev to its agent's log, evicting the oldest line at capacity.
func (s *State) AppendChat(ev ChatEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := append(s.chat[ev.AgentID], ev)
	if over := len(lines) - s.chatCap; over > 0 {
		lines = append([]ChatEvent(nil), lines[over:]...)
	}
	s.chat[ev.AgentID] = lines
}

// Seed replaces an agent's log, keeping the newest lines up to capacity.
func (s *State) Seed(agentID string, events []ChatEvent) {
	if over := len(events) - s.chatCap; over > 0 {
		events = events[over:]
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chat[agentID] = append([]ChatEvent(nil), events...)
}

// Chat returns a copy of an agent's log, oldest first.
func (s *State) Chat(agentID string) []ChatEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ChatEvent(nil), s.chat[agentID]...)
}

// MarkSent records doc as the last document delivered to sink.
func (s *State) MarkSent(sink string, doc map[string]status.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSent[sink] = doc
}

// LastSent returns the last document delivered to sink.
func (s *State) LastSent(sink string) (map[string]status.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.lastSent[sink]
	return doc, ok
}

// Differs reports whether doc is not what sink last received.
func (s *State) Differs(sink string, doc map[string]status.Snapshot) bool {
	last, ok := s.LastSent(sink)
	return !ok || !reflect.DeepEqual(last, doc)
}
