package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"koma/internal/core/domain"
	"koma/pkg/circuitbreaker"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultChannel = "koma:events"

	publishTimeout = 2 * time.Second
)

// Event is a membership event as it travels between hub instances.
type Event struct {
	domain.MembershipEvent
	InstanceID string `json:"instance_id"`
}

type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// EventBus publishes hub membership events to a Redis channel. Emit never
// blocks the hub loop: events are queued and dropped when the queue is full
// or the circuit breaker is open.
type EventBus struct {
	client     redisClient
	instanceID string
	channel    string
	breaker    *circuitbreaker.CircuitBreaker
	queue      chan domain.MembershipEvent
	logger     *zap.SugaredLogger

	dropped atomic.Uint64
}

// NewEventBus creates a new event bus
func NewEventBus(
	client redisClient,
	instanceID string,
	channel string,
	queueSize int,
	logger *zap.SugaredLogger,
) *EventBus {
	if channel == "" {
		channel = DefaultChannel
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	cbConfig := circuitbreaker.DefaultConfig()
	cbConfig.Name = "event-bus"
	breaker := circuitbreaker.New(cbConfig)
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("event bus circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    channel,
		breaker:    breaker,
		queue:      make(chan domain.MembershipEvent, queueSize),
		logger:     logger,
	}
}

// Emit queues event for publication.
func (eb *EventBus) Emit(event domain.MembershipEvent) {
	select {
	case eb.queue <- event:
	default:
		if n := eb.dropped.Add(1); n == 1 || n%100 == 0 {
			eb.logger.Warnw("event bus queue full, dropping events",
				"dropped", n,
			)
		}
	}
}

// Dropped is the number of events discarded because the queue was full.
func (eb *EventBus) Dropped() uint64 {
	return eb.dropped.Load()
}

// Run publishes queued events until ctx is done.
func (eb *EventBus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eb.queue:
			if err := eb.Publish(ctx, event); err != nil {
				eb.logger.Debugw("failed to publish membership event",
					"kind", event.Kind,
					"room", event.Room,
					"error", err,
				)
			}
		}
	}
}

// Publish sends one event through the circuit breaker.
func (eb *EventBus) Publish(ctx context.Context, event domain.MembershipEvent) error {
	data, err := json.Marshal(Event{MembershipEvent: event, InstanceID: eb.instanceID})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return eb.breaker.Execute(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()

		if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
			return fmt.Errorf("failed to publish event: %w", err)
		}
		return nil
	})
}

// Subscribe calls handler for every event published by other instances until
// ctx is done.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(Event)) error {
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			event, err := eb.decode(msg.Payload)
			if err != nil {
				eb.logger.Warnw("failed to unmarshal event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}
			if event.InstanceID == eb.instanceID {
				continue
			}
			handler(event)
		}
	}
}

func (eb *EventBus) decode(payload string) (Event, error) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return Event{}, err
	}
	return event, nil
}
