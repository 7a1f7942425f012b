package messaging

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Event types published by the API.
const (
	EventAccountCreated    = "account.created"
	EventTenantProvisioned = "tenant.provisioned"
	EventRecordGraded      = "record.graded"
)

// DefaultChannel is the pub/sub channel domain events go to.
const DefaultChannel = "livsafe.events"

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Publisher defines the interface for publishing messages
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload interface{}) error
}

type Message struct {
	Type       string      `json:"type"`
	Payload    interface{} `json:"payload"`
	OccurredAt time.Time   `json:"occurred_at"`
}

type brokerPublisher struct {
	broker  Broker
	channel string
}

// NewPublisher wraps payloads in a Message and sends them on channel.
func NewPublisher(broker Broker, channel string) Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &brokerPublisher{broker: broker, channel: channel}
}

func (p *brokerPublisher) Publish(ctx context.Context, eventType string, payload interface{}) error {
	return p.broker.Publish(ctx, p.channel, Message{
		Type:       eventType,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	})
}

type nopPublisher struct{}

// NewNopPublisher drops every event. Used when no broker is configured.
func NewNopPublisher() Publisher { return nopPublisher{} }

func (nopPublisher) Publish(context.Context, string, interface{}) error { return nil }

type instrumentedPublisher struct {
	next    Publisher
	counter *prometheus.CounterVec
}

// WithMetrics counts every publish by event type and status.
func WithMetrics(next Publisher, counter *prometheus.CounterVec) Publisher {
	return &instrumentedPublisher{next: next, counter: counter}
}

func (p *instrumentedPublisher) Publish(ctx context.Context, eventType string, payload interface{}) error {
	err := p.next.Publish(ctx, eventType, payload)
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.counter.WithLabelValues(eventType, status).Inc()
	return err
}
