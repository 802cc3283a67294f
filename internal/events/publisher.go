// Package events announces committed payments to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// DefaultTopic receives one message per committed business effect.
const DefaultTopic = "payment.committed"

// CommittedEvent is the message body. It is keyed by correlation id so that
// all events of one transaction land on one partition.
type CommittedEvent struct {
	CorrelationID string    `json:"correlationId"`
	Kind          string    `json:"kind"`
	Provider      string    `json:"provider"`
	Scope         string    `json:"scope"`
	ResourceID    string    `json:"resourceId"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	CommittedAt   time.Time `json:"committedAt"`
}

// Publisher sends commit events.
type Publisher interface {
	PublishCommitted(ctx context.Context, ev CommittedEvent) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events with a segmentio kafka writer.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaPublisher creates a publisher for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
		topic: topic,
	}
}

func (p *KafkaPublisher) PublishCommitted(ctx context.Context, ev CommittedEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", ev.CorrelationID, err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.CorrelationID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
		},
	})
	if err != nil {
		return fmt.Errorf("events: write to %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishCommitted(context.Context, CommittedEvent) error { return nil }
