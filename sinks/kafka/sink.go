// Package kafka ships audit events to a Kafka topic as JSON. The sink
// honors the audit contract: a broker outage is logged and the event
// dropped, never surfaced to the operation that produced it.
package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/poscore/cafegate"
)

// Config holds the producer settings.
type Config struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
}

// DefaultConfig returns producer tuning suited to audit traffic: small
// batches flushed quickly, so events land near their occurrence time.
func DefaultConfig(brokers []string, topic string) Config {
	return Config{
		Brokers:      brokers,
		Topic:        topic,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// Sink implements cafegate.AuditSink over a kafka-go writer. Events are
// keyed by account id so one account's trail stays ordered within a
// partition.
type Sink struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewSink(cfg Config, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}

	return &Sink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
			RequiredAcks: kafka.RequireAll,
		},
		logger: logger,
	}
}

func (s *Sink) Emit(ctx context.Context, event cafegate.AuditEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("audit event marshal failed", slog.Any("error", err))
		return
	}

	key := event.AccountID
	if key == "" {
		key = event.AttemptedIdentifier
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(event.Action)},
			{Key: "status", Value: []byte(event.Status)},
		},
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.Error("audit event publish failed",
			slog.String("action", event.Action),
			slog.Any("error", err),
		)
	}
}

// Close flushes and closes the underlying writer.
func (s *Sink) Close() error {
	return s.writer.Close()
}
