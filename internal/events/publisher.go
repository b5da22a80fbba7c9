// Package events publishes retrieval lifecycle events to Kafka so downstream
// consumers (indexers, notification fanout) learn about newly available
// documents without polling the attempt ledger.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// DocumentRetrieved is emitted once per successfully retrieved document.
type DocumentRetrieved struct {
	Identifier   string    `json:"identifier"`
	ProviderName string    `json:"provider_name"`
	Path         string    `json:"path"`
	ByteSize     int64     `json:"byte_size"`
	ContentHash  string    `json:"content_hash"`
	RetrievedAt  time.Time `json:"retrieved_at"`
}

// Config holds configuration for the event publisher.
type Config struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic is the Kafka topic for retrieval events.
	Topic string
	// BatchTimeout bounds how long messages sit in the writer buffer.
	BatchTimeout time.Duration
}

// Publisher writes retrieval events to Kafka.
type Publisher struct {
	writer *kafka.Writer
	logger zerolog.Logger
}

// NewPublisher creates a new Kafka event publisher.
func NewPublisher(cfg Config, logger zerolog.Logger) *Publisher {
	batchTimeout := cfg.BatchTimeout
	if batchTimeout == 0 {
		batchTimeout = 10 * time.Millisecond
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: batchTimeout,
		RequiredAcks: kafka.RequireOne,
	}

	return &Publisher{
		writer: writer,
		logger: logger.With().Str("component", "events").Logger(),
	}
}

// PublishRetrieved emits one DocumentRetrieved event. The identifier is the
// message key so events for the same document land on the same partition.
func (p *Publisher) PublishRetrieved(ctx context.Context, event DocumentRetrieved) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal retrieval event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.Identifier),
		Value: value,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write retrieval event: %w", err)
	}

	p.logger.Debug().
		Str("identifier", event.Identifier).
		Str("provider", event.ProviderName).
		Msg("retrieval event published")
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
