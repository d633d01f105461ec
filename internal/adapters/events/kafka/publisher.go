// Package kafka publishes exchange lifecycle events to a Kafka-compatible
// broker using franz-go.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/tjfontaine/mme-broker/internal/core/domain"
	"github.com/tjfontaine/mme-broker/internal/core/ports"
)

// DefaultTopic receives lifecycle events when no topic is configured.
const DefaultTopic = "mme.exchanges"

// producer is the subset of *kgo.Client the publisher needs.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Publisher implements ports.EventPublisher on a Kafka topic. Records are
// keyed by exchange id so all events of one exchange land on one partition.
type Publisher struct {
	client producer
	topic  string

	mu     sync.RWMutex
	closed bool
}

var _ ports.EventPublisher = (*Publisher)(nil)

// NewPublisher connects a producer to brokers.
func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker address is required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka client: %w", err)
	}
	return newPublisher(client, topic), nil
}

func newPublisher(client producer, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{client: client, topic: topic}
}

// Publish produces one JSON record and waits for the broker to ack it.
func (p *Publisher) Publish(ctx context.Context, event *domain.LifecycleEvent) error {
	if event == nil {
		return fmt.Errorf("event required")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("publisher is closed")
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.ExchangeID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "type", Value: []byte(event.Type)},
		},
	}

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce event: %w", err)
	}
	return nil
}

// Close closes the client. It is safe to call twice.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.client.Close()
	return nil
}
