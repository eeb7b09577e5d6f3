package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const relayQueueSize = 256

// relayEnvelope is what travels over the Redis channel.
type relayEnvelope struct {
	Origin string          `json:"origin"`
	Room   string          `json:"room"`
	Data   json.RawMessage `json:"data"`
}

// Relay fans hub publishes out to other server instances through Redis pub/sub.
type Relay struct {
	client  *redis.Client
	channel string
	origin  string
	hub     *Hub
	queue   chan []byte
	logger  *slog.Logger
}

// NewRelay creates a relay for hub and installs it as the hub's forwarder.
func NewRelay(client *redis.Client, channel string, hub *Hub, logger *slog.Logger) *Relay {
	r := &Relay{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		hub:     hub,
		queue:   make(chan []byte, relayQueueSize),
		logger:  logger.With(slog.String("component", "relay")),
	}
	hub.SetForwarder(r)
	return r
}

// Forward queues a locally delivered frame for the other instances. Frames are
// published by Run in the order they were queued; a full queue drops the frame.
func (r *Relay) Forward(room string, data []byte) {
	envelope, err := json.Marshal(relayEnvelope{Origin: r.origin, Room: room, Data: data})
	if err != nil {
		r.logger.Error("Failed to encode envelope", slog.Any("error", err))
		return
	}
	select {
	case r.queue <- envelope:
	default:
		r.logger.Warn("Relay queue full, dropping frame", slog.String("room", room))
	}
}

// Run subscribes to the relay channel and publishes queued frames until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("Relay subscribed", slog.String("channel", r.channel), slog.String("origin", r.origin))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case envelope := <-r.queue:
				if err := r.client.Publish(ctx, r.channel, envelope).Err(); err != nil && ctx.Err() == nil {
					r.logger.Warn("Failed to publish to redis", slog.Any("error", err))
				}
			}
		}
	})
	g.Go(func() error {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-ch:
				if !ok {
					return nil
				}
				r.deliver([]byte(msg.Payload))
			}
		}
	})
	return g.Wait()
}

// deliver publishes a foreign envelope to local members. Own envelopes are skipped.
func (r *Relay) deliver(payload []byte) int {
	var envelope relayEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		r.logger.Warn("Malformed relay envelope", slog.Any("error", err))
		return 0
	}
	if envelope.Origin == r.origin || envelope.Room == "" {
		return 0
	}
	return r.hub.PublishLocal(envelope.Room, envelope.Data)
}
