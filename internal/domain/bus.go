package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, topic string, payload []byte) ([]byte, error)

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
	Type string `json:"type" mapstructure:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `json:"channelBufferSize" mapstructure:"channel_buffer_size"`

	// NATS settings (Pro tier)
	NATSUrl           string `json:"natsUrl" mapstructure:"nats_url"`
	NATSToken         string `json:"-" mapstructure:"nats_token"`
	NATSMaxReconnects int    `json:"natsMaxReconnects" mapstructure:"nats_max_reconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait" mapstructure:"nats_reconnect_wait"` // seconds
}

// Standard topic names for the evaluation pipeline.
const (
	TopicApplicationSubmitted = "application.submitted"
	TopicDecision             = "decision"
	TopicAlert                = "alert"
	TopicCorpusChanged        = "corpus.changed"
)

// SubjectPrefix namespaces every topic on the wire.
const SubjectPrefix = "credittwin"

// Subject returns the fully qualified subject for a topic.
func Subject(topic string) string {
	return SubjectPrefix + "." + topic
}

// ApplicationSubmitted is the payload of an asynchronous evaluation request.
type ApplicationSubmitted struct {
	RequestID   string             `json:"request_id"`
	Application *ApplicationRecord `json:"application"`
}

// AlertEvent is published for fraud and anomaly verdicts.
type AlertEvent struct {
	DecisionID  string  `json:"decision_id"`
	RequestID   string  `json:"request_id,omitempty"`
	ApplicantID string  `json:"applicant_id,omitempty"`
	Verdict     Verdict `json:"decision"`
	Reason      string  `json:"reason"`
	Fraud       bool    `json:"is_fraud_suspect"`
	Score       float64 `json:"anomaly_score"`
}

// Corpus change actions.
const (
	CorpusImported = "imported"
	CorpusReset    = "reset"
	CorpusCleared  = "cleared"
)

// CorpusChanged is published whenever the historical corpus is rewritten.
type CorpusChanged struct {
	Action string `json:"action"`
	Count  int    `json:"count"`
}

// WithDefaults fills unset fields for the configured bus type.
// An empty type selects the in-process channel bus.
func (c EventBusConfig) WithDefaults() EventBusConfig {
	if c.Type == "" {
		c.Type = "channel"
	}
	if c.ChannelBufferSize <= 0 {
		c.ChannelBufferSize = 1000
	}
	if c.Type == "nats" {
		if c.NATSUrl == "" {
			c.NATSUrl = "nats://127.0.0.1:4222"
		}
		if c.NATSMaxReconnects == 0 {
			c.NATSMaxReconnects = 10
		}
		if c.NATSReconnectWait == 0 {
			c.NATSReconnectWait = 5
		}
	}
	return c
}
