// Package events publishes sync-completed notifications for downstream
// consumers such as the search index builder.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/paper-aggregator-service/internal/config"
	"github.com/helixir/paper-aggregator-service/internal/domain"
)

const (
	// ServiceName is stamped on every published message.
	ServiceName = "paper-aggregator-service"

	headerEventType = "event_type"
	headerSource    = "source"

	defaultWriteTimeout = 10 * time.Second
)

// Publisher publishes run notifications.
type Publisher interface {
	PublishSyncCompleted(ctx context.Context, event domain.SyncCompletedEvent) error
	Close() error
}

// messageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic.
type KafkaPublisher struct {
	writer       messageWriter
	topic        string
	writeTimeout time.Duration
	logger       zerolog.Logger
}

// NewKafkaPublisher creates a publisher for the configured brokers and topic.
func NewKafkaPublisher(cfg config.KafkaConfig, logger zerolog.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, domain.NewConfigurationError("kafka.brokers", "at least one broker is required", nil)
	}
	if cfg.Topic == "" {
		return nil, domain.NewConfigurationError("kafka.topic", "topic is required", nil)
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: false,
	}
	return newKafkaPublisher(writer, cfg.Topic, cfg.WriteTimeout, logger), nil
}

func newKafkaPublisher(w messageWriter, topic string, writeTimeout time.Duration, logger zerolog.Logger) *KafkaPublisher {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &KafkaPublisher{
		writer:       w,
		topic:        topic,
		writeTimeout: writeTimeout,
		logger:       logger.With().Str("component", "event_publisher").Str("topic", topic).Logger(),
	}
}

// PublishSyncCompleted writes one message keyed by the run mode.
func (p *KafkaPublisher) PublishSyncCompleted(ctx context.Context, event domain.SyncCompletedEvent) error {
	payload, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("marshal sync event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(event.Mode.String()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: headerEventType, Value: []byte(event.EventType)},
			{Key: headerSource, Value: []byte(ServiceName)},
		},
		Time: event.FinishedAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event.EventType, p.topic, err)
	}

	p.logger.Debug().
		Str("event_id", event.EventID).
		Str("mode", event.Mode.String()).
		Int("inserted", event.TotalInserted).
		Int("updated", event.TotalUpdated).
		Msg("published sync event")
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	p.logger.Info().Msg("closing event publisher")
	return p.writer.Close()
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

// PublishSyncCompleted does nothing.
func (NoopPublisher) PublishSyncCompleted(context.Context, domain.SyncCompletedEvent) error {
	return nil
}

// Close does nothing.
func (NoopPublisher) Close() error { return nil }

// NewPublisher returns a Kafka publisher when enabled and a no-op otherwise.
func NewPublisher(cfg config.KafkaConfig, logger zerolog.Logger) (Publisher, error) {
	if !cfg.Enabled {
		return NoopPublisher{}, nil
	}
	p, err := NewKafkaPublisher(cfg, logger)
	if err != nil {
		return nil, err
	}
	return p, nil
}
