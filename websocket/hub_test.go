package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/CUknot/project_chat/database"
	"github.com/CUknot/project_chat/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSubscriber struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func newFakeSubscriber(id string) *fakeSubscriber {
	return &fakeSubscriber{id: id}
}

func (f *fakeSubscriber) ID() string { return f.id }

func (f *fakeSubscriber) Send(message []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, message)
	return nil
}

func (f *fakeSubscriber) events(t *testing.T) []Event {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	events := make([]Event, 0, len(f.frames))
	for _, frame := range f.frames {
		var e Event
		require.NoError(t, json.Unmarshal(frame, &e))
		events = append(events, e)
	}
	return events
}

type fakeStore struct {
	mu       sync.Mutex
	created  []models.Message
	createFn func(*models.Message) error
	history  []models.Message
	reads    map[string]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{reads: make(map[string]time.Time)}
}

func (s *fakeStore) Create(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createFn != nil {
		if err := s.createFn(msg); err != nil {
			return err
		}
	}
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("m%d", len(s.created)+1)
	}
	s.created = append(s.created, *msg)
	return nil
}

func (s *fakeStore) History(_ context.Context, room string, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, m := range s.history {
		if m.Room == room {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *fakeStore) MarkRead(_ context.Context, room, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads[room+"/"+userID] = at
	return nil
}

func TestHub_JoinIsIdempotent(t *testing.T) {
	hub := NewHub(newFakeStore(), 0, testLogger())
	sub := newFakeSubscriber("a")

	hub.Join(sub, models.TypeProject, "42")
	hub.Join(sub, models.TypeProject, "42")

	assert.Equal(t, 1, hub.RoomSize("project-42"))
	assert.True(t, hub.IsMember(sub, "project-42"))

	delivered := hub.Publish("project-42", EventMessage, map[string]string{"content": "hi"})
	assert.Equal(t, 1, delivered)
	assert.Len(t, sub.events(t), 1)
}

func TestHub_LeaveNonMemberIsNoop(t *testing.T) {
	hub := NewHub(newFakeStore(), 0, testLogger())
	member := newFakeSubscriber("a")
	stranger := newFakeSubscriber("b")

	hub.Join(member, models.TypeProject, "1")
	hub.Leave(stranger, models.TypeProject, "1")
	hub.Leave(stranger, models.TypeProject, "unknown")

	assert.Equal(t, 1, hub.RoomSize("project-1"))
}

func TestHub_EmptyRoomsAreRemoved(t *testing.T) {
	hub := NewHub(newFakeStore(), 0, testLogger())
	sub := newFakeSubscriber("a")

	hub.Join(sub, models.TypeProject, "1")
	hub.Join(sub, models.TypeTask, "7")
	require.Len(t, hub.Rooms(), 2)

	hub.Leave(sub, models.TypeProject, "1")
	assert.Equal(t, []RoomInfo{{Room: "task-7", Members: 1}}, hub.Rooms())

	hub.LeaveAll(sub)
	assert.Empty(t, hub.Rooms())
	assert.False(t, hub.IsMember(sub, "task-7"))
}

func TestHub_RoomIsolation(t *testing.T) {
	hub := NewHub(newFakeStore(), 0, testLogger())
	a := newFakeSubscriber("a")
	b := newFakeSubscriber("b")

	hub.Join(a, models.TypeProject, "A")
	hub.Join(b, models.TypeProject, "B")

	hub.Publish("project-B", EventMessage, map[string]string{"content": "for B"})

	assert.Empty(t, a.events(t))
	assert.Len(t, b.events(t), 1)
}

func TestHub_PublishPreservesOrder(t *testing.T) {
	hub := NewHub(newFakeStore(), 0, testLogger())
	a := newFakeSubscriber("a")
	b := newFakeSubscriber("b")
	hub.JoinRoom(a, "project-1")
	hub.JoinRoom(b, "project-1")

	for i := 0; i < 20; i++ {
		hub.Publish("project-1", EventMessage, i)
	}

	for _, sub := range []*fakeSubscriber{a, b} {
		events := sub.events(t)
		require.Len(t, events, 20)
		for i, e := range events {
			assert.EqualValues(t, i, e.Payload)
		}
	}
}

func TestHub_FailingSubscriberIsDropped(t *testing.T) {
	hub := NewHub(newFakeStore(), 0, testLogger())
	healthy := newFakeSubscriber("healthy")
	slow := newFakeSubscriber("slow")
	slow.err = ErrSlowConsumer

	hub.JoinRoom(healthy, "project-1")
	hub.JoinRoom(slow, "project-1")
	hub.JoinRoom(slow, "project-2")

	delivered := hub.Publish("project-1", EventMessage, "x")

	assert.Equal(t, 1, delivered)
	assert.False(t, hub.IsMember(slow, "project-1"))
	assert.False(t, hub.IsMember(slow, "project-2"))
	assert.Equal(t, 0, hub.RoomSize("project-2"))
}

func TestHub_SendMessagePersistsAndBroadcastsToSender(t *testing.T) {
	store := newFakeStore()
	hub := NewHub(store, 0, testLogger())
	sender := newFakeSubscriber("sender")
	other := newFakeSubscriber("other")
	hub.Join(sender, models.TypeProject, "42")
	hub.Join(other, models.TypeProject, "42")

	msg, err := hub.SendMessage(context.Background(), &models.Message{
		Content:   "hi",
		Sender:    "u1",
		ProjectID: "42",
		Room:      "project-42",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Len(t, store.created, 1)

	for _, sub := range []*fakeSubscriber{sender, other} {
		events := sub.events(t)
		require.Len(t, events, 1)
		assert.Equal(t, EventMessage, events[0].Type)
		payload := events[0].Payload.(map[string]interface{})
		assert.Equal(t, "hi", payload["content"])
		assert.Equal(t, msg.ID, payload["_id"])
	}
}

func TestHub_SendMessageRejectsEmptyContent(t *testing.T) {
	store := newFakeStore()
	hub := NewHub(store, 0, testLogger())
	sub := newFakeSubscriber("a")
	hub.JoinRoom(sub, "project-1")

	_, err := hub.SendMessage(context.Background(), &models.Message{Content: "  ", Room: "project-1"})

	assert.ErrorIs(t, err, database.ErrEmptyContent)
	assert.Empty(t, store.created)
	assert.Empty(t, sub.events(t))
}

func TestHub_PersistenceFailureMeansNoBroadcast(t *testing.T) {
	store := newFakeStore()
	store.createFn = func(*models.Message) error { return errors.New("db down") }
	hub := NewHub(store, 0, testLogger())
	sub := newFakeSubscriber("a")
	hub.JoinRoom(sub, "project-1")

	_, err := hub.SendMessage(context.Background(), &models.Message{Content: "hi", Room: "project-1"})

	assert.Error(t, err)
	assert.Empty(t, sub.events(t))
}

func TestHub_SendCommentUsesCommentEvent(t *testing.T) {
	hub := NewHub(newFakeStore(), 0, testLogger())
	sub := newFakeSubscriber("a")
	hub.JoinRoom(sub, "task-9")

	msg, err := hub.SendComment(context.Background(), &models.Message{Content: "lgtm", Room: "task-9"})
	require.NoError(t, err)
	assert.Equal(t, models.TypeComment, msg.Type)

	events := sub.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, EventCommentAdded, events[0].Type)
}

type recordingForwarder struct {
	rooms  []string
	frames [][]byte
}

func (f *recordingForwarder) Forward(room string, message []byte) {
	f.rooms = append(f.rooms, room)
	f.frames = append(f.frames, message)
}

func TestHub_ForwarderSeesPublishButNotLocalDelivery(t *testing.T) {
	hub := NewHub(newFakeStore(), 0, testLogger())
	fwd := &recordingForwarder{}
	hub.SetForwarder(fwd)
	sub := newFakeSubscriber("a")
	hub.JoinRoom(sub, "project-1")

	hub.Publish("project-1", EventMessage, "one")
	hub.PublishLocal("project-1", []byte(`{"type":"message","payload":"two"}`))

	assert.Equal(t, []string{"project-1"}, fwd.rooms)
	assert.Len(t, sub.events(t), 2)
}

func TestHub_ForwardOrderMatchesLocalOrder(t *testing.T) {
	hub := NewHub(newFakeStore(), 0, testLogger())
	fwd := &recordingForwarder{}
	hub.SetForwarder(fwd)
	sub := newFakeSubscriber("a")
	hub.JoinRoom(sub, "project-1")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hub.Publish("project-1", EventMessage, i)
		}(i)
	}
	wg.Wait()

	sub.mu.Lock()
	defer sub.mu.Unlock()
	require.Len(t, fwd.frames, 50)
	assert.Equal(t, sub.frames, fwd.frames)
}

func TestHub_MarkReadSkipsAnonymous(t *testing.T) {
	store := newFakeStore()
	hub := NewHub(store, 0, testLogger())

	require.NoError(t, hub.MarkRead(context.Background(), "project-1", ""))
	require.NoError(t, hub.MarkRead(context.Background(), "project-1", "u1"))

	assert.Len(t, store.reads, 1)
	assert.Contains(t, store.reads, "project-1/u1")
}
