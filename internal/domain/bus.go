package domain

import (
	"context"
)

// EventBus carries pipeline lifecycle events. The in-process channel bus is
// the default; NATS is available when external observers need the stream.
// All methods are scoped by runID so concurrent runs stay isolated.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, runID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, runID string, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	RunID     string            `json:"runId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings
	ChannelBufferSize int

	// NATS settings
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Standard topic names for the dataset pipeline.
const (
	TopicStageStarted   = "shrike.stage.started"
	TopicStageCompleted = "shrike.stage.completed"
	TopicRunCompleted   = "shrike.run.completed"
	TopicRunFailed      = "shrike.run.failed"
)

// StageEvent is the payload published on stage topics.
type StageEvent struct {
	RunID      string         `json:"runId"`
	Stage      string         `json:"stage"`
	DurationMs int64          `json:"durationMs,omitempty"`
	Rows       map[string]int `json:"rows,omitempty"`
	Error      string         `json:"error,omitempty"`
}
