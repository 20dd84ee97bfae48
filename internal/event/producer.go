package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher emits identity events for downstream consumers (mailer,
// audit). Implementations must never block an auth flow on broker
// failures: publish errors are logged and swallowed.
type Publisher interface {
	Publish(ctx context.Context, eventType, aggregateID string, data any)
	Close() error
}

// ProducerConfig holds Kafka producer configuration.
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
}

// DefaultProducerConfig returns sensible defaults for the identity
// event stream.
func DefaultProducerConfig(brokers []string, topic string) ProducerConfig {
	return ProducerConfig{
		Brokers:      brokers,
		Topic:        topic,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// Producer publishes identity events to a single Kafka topic.
type Producer struct {
	writer  *kafka.Writer
	brokers []string
	logger  *slog.Logger
}

// NewProducer creates a Kafka-backed publisher.
func NewProducer(cfg ProducerConfig, logger *slog.Logger) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireAll,
	}

	return &Producer{
		writer:  w,
		brokers: cfg.Brokers,
		logger:  logger,
	}
}

// Publish wraps the payload in an envelope and writes it keyed by the
// aggregate ID. Failures are logged, never returned: losing a
// notification event must not fail the auth flow that produced it.
func (p *Producer) Publish(ctx context.Context, eventType, aggregateID string, data any) {
	env, err := NewEnvelope(eventType, aggregateID, data)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to build event envelope",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
		return
	}

	raw, err := env.Marshal()
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to marshal event",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
		return
	}

	msg := kafka.Message{
		Key:   []byte(aggregateID),
		Value: raw,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "source", Value: []byte(env.Source)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.ErrorContext(ctx, "failed to publish event",
			slog.String("event_type", eventType),
			slog.String("aggregate_id", aggregateID),
			slog.String("error", err.Error()),
		)
		return
	}

	p.logger.DebugContext(ctx, "event published",
		slog.String("event_type", eventType),
		slog.String("aggregate_id", aggregateID),
	)
}

// Ping checks broker connectivity by dialing the configured brokers.
func (p *Producer) Ping(ctx context.Context) error {
	if len(p.brokers) == 0 {
		return fmt.Errorf("kafka: no brokers configured")
	}

	var lastErr error
	for _, addr := range p.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		_, err = conn.Brokers()
		_ = conn.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("kafka ping: all brokers unreachable: %w", lastErr)
}

// Close flushes pending messages and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// NopPublisher discards all events. Used when the event stream is
// disabled (local development, tests).
type NopPublisher struct{}

// Publish discards the event.
func (NopPublisher) Publish(context.Context, string, string, any) {}

// Close is a no-op.
func (NopPublisher) Close() error { return nil }
