// ABOUTME: Tests for the Matrix status sink against a fake messenger
// ABOUTME: Covers activation, create-once, edit retry and command filtering

package matrixsink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-fleet/internal/config"
	"github.com/2389/coven-fleet/internal/status"
)

const (
	selfID   = id.UserID("@fleet:example.org")
	roomA    = id.RoomID("!a:example.org")
	roomB    = id.RoomID("!b:example.org")
	operator = id.UserID("@op:example.org")
)

type sentDoc struct {
	room    id.RoomID
	eventID id.EventID
	doc     Document
}

type editedDoc struct {
	room   id.RoomID
	target id.EventID
	doc    Document
}

type fakeMessenger struct {
	mu      sync.Mutex
	sends   []sentDoc
	edits   []editedDoc
	acks    []id.EventID
	sendErr error
	editErr error
	ackErr  error
}

func (f *fakeMessenger) SendDocument(_ context.Context, room id.RoomID, doc Document) (id.EventID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	evID := id.EventID(fmt.Sprintf("$notice%d", len(f.sends)+1))
	f.sends = append(f.sends, sentDoc{room: room, eventID: evID, doc: doc})
	return evID, nil
}

func (f *fakeMessenger) EditDocument(_ context.Context, room id.RoomID, target id.EventID, doc Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return f.editErr
	}
	f.edits = append(f.edits, editedDoc{room: room, target: target, doc: doc})
	return nil
}

func (f *fakeMessenger) Acknowledge(_ context.Context, _ id.RoomID, command id.EventID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, command)
	return f.ackErr
}

func (f *fakeMessenger) setErrs(send, edit error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = send
	f.editErr = edit
}

func (f *fakeMessenger) counts() (sends, edits, acks int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends), len(f.edits), len(f.acks)
}

func (f *fakeMessenger) allSends() []sentDoc {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentDoc(nil), f.sends...)
}

func (f *fakeMessenger) allEdits() []editedDoc {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]editedDoc(nil), f.edits...)
}

type fakeSource struct {
	mu    sync.Mutex
	snaps map[string]status.Snapshot
	err   error
}

func (s *fakeSource) Snapshots(context.Context) (map[string]status.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]status.Snapshot, len(s.snaps))
	for k, v := range s.snaps {
		out[k] = v
	}
	return out, nil
}

func (s *fakeSource) set(snaps map[string]status.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = snaps
}

func intPtr(n int) *int    { return &n }
func boolPtr(b bool) *bool { return &b }

func online(health int) status.Snapshot {
	return status.Snapshot{
		Online:    true,
		Alive:     boolPtr(health > 0),
		Health:    intPtr(health),
		Food:      intPtr(18),
		Dimension: status.DimensionOverworld,
		Position:  "10, 64, -4",
	}
}

func testConfig(interval time.Duration, room string) *config.Provider {
	return config.Static(&config.Config{
		Web: config.WebConfig{AllowWebChat: true},
		Matrix: config.MatrixConfig{
			Enabled:        true,
			RoomID:         room,
			Command:        config.DefaultMatrixCommand,
			UpdateInterval: interval,
		},
	})
}

func newTestSink(t *testing.T, room string) (*Sink, *fakeMessenger, *fakeSource) {
	t.Helper()
	msg := &fakeMessenger{}
	src := &fakeSource{snaps: map[string]status.Snapshot{"Alice": online(20)}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(testConfig(10*time.Second, room), src, msg, selfID, logger), msg, src
}

func command(evID id.EventID, room id.RoomID, sender id.UserID, body string, ts time.Time) *event.Event {
	return &event.Event{
		ID:        evID,
		RoomID:    room,
		Sender:    sender,
		Type:      event.EventMessage,
		Timestamp: ts.UnixMilli(),
		Content: event.Content{Parsed: &event.MessageEventContent{
			MsgType: event.MsgText,
			Body:    body,
		}},
	}
}

func TestActivate_CreatesOnceThenEdits(t *testing.T) {
	s, msg, src := newTestSink(t, "")

	s.Activate(t.Context(), roomA, "$cmd1")
	sends, edits, acks := msg.counts()
	assert.Equal(t, 1, sends)
	assert.Equal(t, 0, edits)
	assert.Equal(t, 1, acks)

	room, notice, ok := s.Active()
	require.True(t, ok)
	assert.Equal(t, roomA, room)
	assert.Equal(t, id.EventID("$notice1"), notice)

	s.Refresh(t.Context())
	_, edits, _ = msg.counts()
	assert.Equal(t, 0, edits, "identical document is not re-sent")

	src.set(map[string]status.Snapshot{"Alice": online(7)})
	s.Refresh(t.Context())
	s.Refresh(t.Context())

	sends, edits, _ = msg.counts()
	assert.Equal(t, 1, sends, "never duplicated while active")
	require.Equal(t, 1, edits)
	edit := msg.allEdits()[0]
	assert.Equal(t, id.EventID("$notice1"), edit.target)
	assert.Contains(t, edit.doc.Body, "Health: 7")
}

func TestRefresh_EditFailureKeepsReference(t *testing.T) {
	s, msg, src := newTestSink(t, "")
	s.Activate(t.Context(), roomA, "")

	msg.setErrs(nil, errors.New("rate limited"))
	src.set(map[string]status.Snapshot{"Alice": online(5)})
	s.Refresh(t.Context())

	_, notice, _ := s.Active()
	assert.Equal(t, id.EventID("$notice1"), notice)

	msg.setErrs(nil, nil)
	s.Refresh(t.Context())

	sends, edits, _ := msg.counts()
	assert.Equal(t, 1, sends, "failed edit does not create a new notice")
	require.Equal(t, 1, edits, "edit retried on the next cycle")
	assert.Equal(t, id.EventID("$notice1"), msg.allEdits()[0].target)
}

func TestRefresh_CreateFailureRetriedNextCycle(t *testing.T) {
	s, msg, _ := newTestSink(t, "")
	msg.setErrs(errors.New("forbidden"), nil)

	s.Activate(t.Context(), roomA, "$cmd")
	_, notice, ok := s.Active()
	require.True(t, ok)
	assert.Empty(t, notice)

	msg.setErrs(nil, nil)
	s.Refresh(t.Context())

	_, notice, _ = s.Active()
	assert.Equal(t, id.EventID("$notice1"), notice)
	sends, edits, _ := msg.counts()
	assert.Equal(t, 1, sends)
	assert.Equal(t, 0, edits)
}

func TestActivate_ReplacesPreviousTarget(t *testing.T) {
	s, msg, src := newTestSink(t, "")

	s.Activate(t.Context(), roomA, "$cmdA")
	s.mu.Lock()
	first := s.active
	s.mu.Unlock()

	s.Activate(t.Context(), roomB, "$cmdB")
	assert.Len(t, s.sched.Entries(), 1, "previous schedule removed")

	src.set(map[string]status.Snapshot{"Alice": online(3)})
	s.refresh(t.Context(), first)
	s.Refresh(t.Context())

	sends := msg.allSends()
	require.Len(t, sends, 2)
	assert.Equal(t, roomA, sends[0].room)
	assert.Equal(t, roomB, sends[1].room)

	edits := msg.allEdits()
	require.Len(t, edits, 1, "only the active target refreshes")
	assert.Equal(t, roomB, edits[0].room)
	assert.Equal(t, id.EventID("$notice2"), edits[0].target)
}

func TestAcknowledgeFailureDoesNotBlockActivation(t *testing.T) {
	s, msg, _ := newTestSink(t, "")
	msg.ackErr = errors.New("no permission to react")

	s.Activate(t.Context(), roomA, "$cmd")

	sends, _, acks := msg.counts()
	assert.Equal(t, 1, acks)
	assert.Equal(t, 1, sends)
}

func TestHandleEvent_Filters(t *testing.T) {
	now := time.Now().Add(time.Second)

	tests := []struct {
		name string
		evt  *event.Event
	}{
		{"own message", command("$1", roomA, selfID, "!send-embed", now)},
		{"other text", command("$2", roomA, operator, "hello", now)},
		{"wrong room", command("$3", roomB, operator, "!send-embed", now)},
		{"before startup", command("$4", roomA, operator, "!send-embed", time.Now().Add(-time.Hour))},
		{"unparsed content", &event.Event{ID: "$5", RoomID: roomA, Sender: operator, Timestamp: now.UnixMilli()}},
		{"notice", func() *event.Event {
			evt := command("$6", roomA, operator, "!send-embed", now)
			evt.Content.Parsed.(*event.MessageEventContent).MsgType = event.MsgNotice
			return evt
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, msg, _ := newTestSink(t, string(roomA))
			s.HandleEvent(t.Context(), tt.evt)
			sends, _, acks := msg.counts()
			assert.Zero(t, sends)
			assert.Zero(t, acks)
			_, _, ok := s.Active()
			assert.False(t, ok)
		})
	}
}

func TestHandleEvent_ActivatesOncePerCommand(t *testing.T) {
	s, msg, _ := newTestSink(t, string(roomA))
	evt := command("$cmd", roomA, operator, "  !send-embed ", time.Now().Add(time.Second))

	s.HandleEvent(t.Context(), evt)
	s.HandleEvent(t.Context(), evt)

	sends, _, acks := msg.counts()
	assert.Equal(t, 1, sends)
	assert.Equal(t, 1, acks)
	room, _, ok := s.Active()
	require.True(t, ok)
	assert.Equal(t, roomA, room)
}

func TestRefresh_FallsBackToPublishedSnapshots(t *testing.T) {
	s, msg, src := newTestSink(t, "")
	require.NoError(t, s.DeliverStatus(t.Context(), map[string]status.Snapshot{"Bob": status.Offline()}))
	src.mu.Lock()
	src.err = errors.New("supervisor stopped")
	src.mu.Unlock()

	s.Activate(t.Context(), roomA, "")

	sends := msg.allSends()
	require.Len(t, sends, 1)
	assert.Contains(t, sends[0].doc.Body, "Bot: Bob")
	assert.Contains(t, sends[0].doc.Body, indicatorOffline)
}

func TestRun_RefreshesOnSchedule(t *testing.T) {
	msg := &fakeMessenger{}
	src := &fakeSource{snaps: map[string]status.Snapshot{"Alice": online(20)}}
	s := New(testConfig(time.Second, ""), src, msg, selfID, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	s.Activate(ctx, roomA, "")
	src.set(map[string]status.Snapshot{"Alice": online(4)})

	assert.Eventually(t, func() bool {
		_, edits, _ := msg.counts()
		return edits >= 1
	}, 4*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
