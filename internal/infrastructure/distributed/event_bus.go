package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"p2prelay/internal/core/domain"
	"p2prelay/pkg/circuitbreaker"
	"p2prelay/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventType represents the type of event
type EventType string

const (
	EventMemberJoined      EventType = "group.member_joined"
	EventMemberLeft        EventType = "group.member_left"
	EventDirectEstablished EventType = "pair.direct_established"
)

// Event represents a distributed event
type Event struct {
	Type       EventType       `json:"type"`
	InstanceID string          `json:"instance_id"`
	Timestamp  time.Time       `json:"timestamp"`
	GroupID    domain.GroupID  `json:"group_id"`
	HostID     domain.HostID   `json:"host_id,omitempty"`
	Pair       *domain.PairKey `json:"pair,omitempty"`
}

// client is the part of *redis.Client the bus uses.
type client interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

var errAlreadySubscribed = errors.New("already subscribed")

// EventBus publishes group lifecycle events over Redis pub/sub and
// implements ports.EventPublisher.
type EventBus struct {
	client     client
	instanceID string
	channel    string
	retry      retry.Config
	breaker    *circuitbreaker.Breaker
	logger     *zap.SugaredLogger
	pubsub     *redis.PubSub
}

func NewEventBus(
	client client,
	instanceID string,
	channel string,
	logger *zap.SugaredLogger,
) *EventBus {
	cfg := retry.DefaultConfig()
	cfg.NonRetryableErrors = []error{context.Canceled, context.DeadlineExceeded}

	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig())
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("event bus circuit breaker changed state", "from", from, "to", to)
	})

	return &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    channel,
		retry:      cfg,
		breaker:    breaker,
		logger:     logger,
	}
}

// Publish publishes an event to the event bus
func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	event.InstanceID = eb.instanceID
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// While Redis is down the breaker fails events fast instead of retrying each one.
	err = eb.breaker.Execute(func() error {
		return retry.Retry(ctx, eb.retry, func() error {
			return eb.client.Publish(ctx, eb.channel, data).Err()
		})
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"group_id", event.GroupID,
		"host_id", event.HostID,
	)
	return nil
}

// Subscribe calls handler for every event published by other instances
// until ctx is done.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*Event) error) error {
	if eb.pubsub != nil {
		return errAlreadySubscribed
	}

	eb.pubsub = eb.client.Subscribe(ctx, eb.channel)
	defer eb.pubsub.Close()

	ch := eb.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			eb.dispatch(msg.Payload, handler)
		}
	}
}

func (eb *EventBus) dispatch(payload string, handler func(*Event) error) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		eb.logger.Warnw("failed to unmarshal event", "error", err, "payload", payload)
		return
	}

	if event.InstanceID == eb.instanceID {
		return
	}

	if err := handler(&event); err != nil {
		eb.logger.Warnw("error handling event", "type", event.Type, "error", err)
	}
}

func (eb *EventBus) PublishMemberJoined(ctx context.Context, groupID domain.GroupID, hostID domain.HostID) error {
	return eb.Publish(ctx, &Event{
		Type:    EventMemberJoined,
		GroupID: groupID,
		HostID:  hostID,
	})
}

func (eb *EventBus) PublishMemberLeft(ctx context.Context, groupID domain.GroupID, hostID domain.HostID) error {
	return eb.Publish(ctx, &Event{
		Type:    EventMemberLeft,
		GroupID: groupID,
		HostID:  hostID,
	})
}

func (eb *EventBus) PublishDirectEstablished(ctx context.Context, groupID domain.GroupID, pair domain.PairKey) error {
	return eb.Publish(ctx, &Event{
		Type:    EventDirectEstablished,
		GroupID: groupID,
		Pair:    &pair,
	})
}

// Close closes the event bus
func (eb *EventBus) Close() error {
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}
