package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRelayChannel = "test:rooms"

func newTestRelay(t *testing.T, mr *miniredis.Miniredis, hub *Hub) *Relay {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRelay(client, testRelayChannel, hub, testLogger())
}

func frameCount(sub *fakeSubscriber) int {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return len(sub.frames)
}

func runRelays(t *testing.T, mr *miniredis.Miniredis, relays ...*Relay) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, len(relays))
	for _, r := range relays {
		go func(r *Relay) { errs <- r.Run(ctx) }(r)
	}
	t.Cleanup(func() {
		cancel()
		for range relays {
			assert.NoError(t, <-errs)
		}
	})

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(testRelayChannel)[testRelayChannel] == len(relays)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRelay_RoundTripBetweenInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	hubA := NewHub(newFakeStore(), 0, testLogger())
	hubB := NewHub(newFakeStore(), 0, testLogger())
	runRelays(t, mr, newTestRelay(t, mr, hubA), newTestRelay(t, mr, hubB))

	local := newFakeSubscriber("a")
	hubA.JoinRoom(local, "project-1")
	remote := newFakeSubscriber("b")
	hubB.JoinRoom(remote, "project-1")
	elsewhere := newFakeSubscriber("c")
	hubB.JoinRoom(elsewhere, "project-2")

	hubA.Publish("project-1", EventMessage, "one")
	hubA.Publish("project-1", EventMessage, "two")

	require.Eventually(t, func() bool { return frameCount(remote) == 2 }, 2*time.Second, 5*time.Millisecond)
	events := remote.events(t)
	assert.Equal(t, "one", events[0].Payload)
	assert.Equal(t, "two", events[1].Payload)

	// Own envelopes coming back over Redis are not delivered twice.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, frameCount(local))
	assert.Zero(t, frameCount(elsewhere))
}

func TestRelay_RemoteFramesAreNotForwardedAgain(t *testing.T) {
	mr := miniredis.RunT(t)
	hubA := NewHub(newFakeStore(), 0, testLogger())
	hubB := NewHub(newFakeStore(), 0, testLogger())
	hubC := NewHub(newFakeStore(), 0, testLogger())
	runRelays(t, mr, newTestRelay(t, mr, hubA), newTestRelay(t, mr, hubB), newTestRelay(t, mr, hubC))

	subB := newFakeSubscriber("b")
	hubB.JoinRoom(subB, "project-1")
	subC := newFakeSubscriber("c")
	hubC.JoinRoom(subC, "project-1")

	hubA.Publish("project-1", EventMessage, "once")

	require.Eventually(t, func() bool {
		return frameCount(subB) == 1 && frameCount(subC) == 1
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, frameCount(subB))
	assert.Equal(t, 1, frameCount(subC))
}

func TestRelay_RunFailsWhenRedisIsDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()
	relay := NewRelay(client, testRelayChannel, NewHub(newFakeStore(), 0, testLogger()), testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, relay.Run(ctx))
}

func TestRelay_DeliversForeignEnvelopes(t *testing.T) {
	hub := NewHub(newFakeStore(), 0, testLogger())
	relay := newTestRelay(t, miniredis.RunT(t), hub)
	sub := newFakeSubscriber("a")
	hub.JoinRoom(sub, "project-1")

	payload, err := json.Marshal(relayEnvelope{
		Origin: "another-instance",
		Room:   "project-1",
		Data:   json.RawMessage(`{"type":"message","payload":{"content":"remote"}}`),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, relay.deliver(payload))

	events := sub.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, EventMessage, events[0].Type)
}

func TestRelay_SkipsOwnAndMalformedEnvelopes(t *testing.T) {
	hub := NewHub(newFakeStore(), 0, testLogger())
	relay := newTestRelay(t, miniredis.RunT(t), hub)
	sub := newFakeSubscriber("a")
	hub.JoinRoom(sub, "project-1")

	own, err := json.Marshal(relayEnvelope{Origin: relay.origin, Room: "project-1", Data: json.RawMessage(`{}`)})
	require.NoError(t, err)

	assert.Equal(t, 0, relay.deliver(own))
	assert.Equal(t, 0, relay.deliver([]byte("not json")))
	assert.Empty(t, sub.events(t))
}

func TestNewRelay_InstallsForwarder(t *testing.T) {
	hub := NewHub(newFakeStore(), 0, testLogger())
	relay := newTestRelay(t, miniredis.RunT(t), hub)

	hub.mu.Lock()
	defer hub.mu.Unlock()
	assert.Same(t, relay, hub.forwarder)
}
