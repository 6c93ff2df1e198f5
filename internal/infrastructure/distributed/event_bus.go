package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"lobbysignal/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventType represents the type of event
type EventType string

const (
	EventLobbyDeleted EventType = "lobby.deleted"
	EventPeerLeft     EventType = "peer.left"
)

// Event is a mailbox lifecycle change broadcast to the other relay instances.
type Event struct {
	Type       EventType      `json:"type"`
	InstanceID string         `json:"instance_id"`
	Timestamp  time.Time      `json:"timestamp"`
	LobbyID    domain.LobbyID `json:"lobby_id"`
	PeerID     domain.PeerID  `json:"peer_id,omitempty"`
}

// EventBus carries lobby events between relay instances sharing one Redis.
// Each instance keeps its own in-memory mailbox, so a lobby deleted or a
// peer that left through one instance must be purged on the others too.
type EventBus struct {
	client     *redis.Client
	instanceID string
	channel    string
	logger     *zap.SugaredLogger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewEventBus publishes on "<keyPrefix>:events". instanceID tags outgoing
// events so an instance can ignore its own.
func NewEventBus(client *redis.Client, keyPrefix, instanceID string, logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    keyPrefix + ":events",
		logger:     logger,
	}
}

func (eb *EventBus) InstanceID() string {
	return eb.instanceID
}

// Publish publishes an event to the event bus
func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	event.InstanceID = eb.instanceID
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"lobby_id", event.LobbyID,
		"peer_id", event.PeerID,
	)
	return nil
}

func (eb *EventBus) PublishLobbyDeleted(ctx context.Context, lobbyID domain.LobbyID) error {
	return eb.Publish(ctx, &Event{Type: EventLobbyDeleted, LobbyID: lobbyID})
}

func (eb *EventBus) PublishPeerLeft(ctx context.Context, lobbyID domain.LobbyID, peerID domain.PeerID) error {
	return eb.Publish(ctx, &Event{Type: EventPeerLeft, LobbyID: lobbyID, PeerID: peerID})
}

// Subscribe confirms the subscription with Redis, then delivers events from
// other instances to handler on a background goroutine until ctx is done or
// the bus is closed.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*Event) error) error {
	eb.mu.Lock()
	if eb.pubsub != nil {
		eb.mu.Unlock()
		return fmt.Errorf("already subscribed")
	}
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	eb.pubsub = pubsub
	eb.done = make(chan struct{})
	done := eb.done
	eb.mu.Unlock()

	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		close(done)
		return fmt.Errorf("failed to subscribe to %s: %w", eb.channel, err)
	}

	go func() {
		defer close(done)
		eb.loop(ctx, pubsub.Channel(), handler)
	}()
	return nil
}

// Done is closed once the subscription loop has exited. Nil before Subscribe.
func (eb *EventBus) Done() <-chan struct{} {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return eb.done
}

func (eb *EventBus) loop(ctx context.Context, ch <-chan *redis.Message, handler func(*Event) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			eb.handle(msg.Payload, handler)
		}
	}
}

func (eb *EventBus) handle(payload string, handler func(*Event) error) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		eb.logger.Warnw("failed to unmarshal event",
			"error", err,
			"payload", payload,
		)
		return
	}

	// Skip events from this instance
	if event.InstanceID == eb.instanceID {
		return
	}

	if err := handler(&event); err != nil {
		eb.logger.Warnw("error handling event",
			"type", event.Type,
			"lobby_id", event.LobbyID,
			"error", err,
		)
	}
}

// Close closes the event bus
func (eb *EventBus) Close() error {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}
