package mq

import (
	"context"
	"time"
)

// MessageQueue defines the unified interface for message queue operations.
// The abstraction keeps grading dispatch independent of the broker.
type MessageQueue interface {
	// Publish publishes a message to the specified topic
	Publish(ctx context.Context, topic string, message *Message) error

	// Subscribe registers a handler for a topic. Handlers run after Start.
	Subscribe(ctx context.Context, topic string, handler HandlerFunc) error

	// Start starts consuming messages
	Start() error

	// Stop gracefully stops consuming messages
	Stop() error

	// Ping verifies the broker connection is alive
	Ping(ctx context.Context) error

	// Close closes the connection
	Close() error
}

// Message represents a message in the queue
type Message struct {
	// ID is the unique identifier for the message
	ID string `json:"id"`

	// Body is the message payload
	Body []byte `json:"body"`

	// Headers contains metadata about the message
	Headers map[string]string `json:"headers"`

	// Timestamp is when the message was created
	Timestamp time.Time `json:"timestamp"`

	// Retry information
	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// HandlerFunc is the function signature for message handlers.
// Returning an error requeues the message until MaxRetries is exhausted.
type HandlerFunc func(ctx context.Context, message *Message) error
