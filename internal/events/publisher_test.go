package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-aggregator-service/internal/config"
	"github.com/helixir/paper-aggregator-service/internal/domain"
)

type fakeWriter struct {
	msgs     []kafka.Message
	err      error
	deadline bool
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	_, w.deadline = ctx.Deadline()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func testEvent() domain.SyncCompletedEvent {
	started := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	summary := domain.NewRunSummary(domain.IngestModeIncremental, started)
	summary.Add(domain.TaskResult{Source: domain.SourceTypeArXiv, Query: "cs.AI", Inserted: 3, Updated: 1})
	summary.Add(domain.TaskResult{Source: domain.SourceTypeGoogleScholar, Query: "llm", Inserted: 2})
	summary.FinishedAt = started.Add(time.Minute)
	return domain.NewSyncCompletedEvent(summary)
}

func TestKafkaPublisher_PublishSyncCompleted(t *testing.T) {
	t.Run("writes keyed message with headers", func(t *testing.T) {
		w := &fakeWriter{}
		p := newKafkaPublisher(w, "papers.sync", 0, zerolog.Nop())

		event := testEvent()
		require.NoError(t, p.PublishSyncCompleted(context.Background(), event))

		require.Len(t, w.msgs, 1)
		msg := w.msgs[0]
		assert.Equal(t, "incremental", string(msg.Key))
		assert.True(t, w.deadline, "publish is bounded by the write timeout")
		assert.Equal(t, event.FinishedAt, msg.Time)

		headers := make(map[string]string)
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
		assert.Equal(t, domain.EventTypeSyncCompleted, headers["event_type"])
		assert.Equal(t, ServiceName, headers["source"])

		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(msg.Value, &decoded))
		assert.Equal(t, event.EventID, decoded["event_id"])
		assert.EqualValues(t, 5, decoded["total_inserted"])
		assert.EqualValues(t, 1, decoded["total_updated"])
		byProvider, ok := decoded["by_provider"].(map[string]interface{})
		require.True(t, ok)
		assert.EqualValues(t, 3, byProvider["arxiv"])
		assert.EqualValues(t, 2, byProvider["google_scholar"])
	})

	t.Run("wraps writer errors", func(t *testing.T) {
		w := &fakeWriter{err: errors.New("leader not available")}
		p := newKafkaPublisher(w, "papers.sync", time.Second, zerolog.Nop())

		err := p.PublishSyncCompleted(context.Background(), testEvent())
		require.Error(t, err)
		assert.ErrorContains(t, err, "papers.sync")
		assert.ErrorContains(t, err, "leader not available")
	})
}

func TestKafkaPublisher_Close(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, "papers.sync", 0, zerolog.Nop())

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNewPublisher(t *testing.T) {
	t.Run("disabled returns noop", func(t *testing.T) {
		p, err := NewPublisher(config.KafkaConfig{Enabled: false}, zerolog.Nop())
		require.NoError(t, err)
		assert.IsType(t, NoopPublisher{}, p)
		assert.NoError(t, p.PublishSyncCompleted(context.Background(), testEvent()))
		assert.NoError(t, p.Close())
	})

	t.Run("enabled without brokers", func(t *testing.T) {
		_, err := NewPublisher(config.KafkaConfig{Enabled: true, Topic: "t"}, zerolog.Nop())
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrConfiguration)
	})

	t.Run("enabled without topic", func(t *testing.T) {
		_, err := NewPublisher(config.KafkaConfig{Enabled: true, Brokers: []string{"localhost:9092"}}, zerolog.Nop())
		require.Error(t, err)
		var cfgErr *domain.ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "kafka.topic", cfgErr.Key)
	})

	t.Run("enabled builds kafka writer", func(t *testing.T) {
		p, err := NewPublisher(config.KafkaConfig{
			Enabled: true,
			Brokers: []string{"localhost:9092"},
			Topic:   "papers.sync",
		}, zerolog.Nop())
		require.NoError(t, err)

		kp, ok := p.(*KafkaPublisher)
		require.True(t, ok)
		kw, ok := kp.writer.(*kafka.Writer)
		require.True(t, ok)
		assert.Equal(t, "papers.sync", kw.Topic)
		assert.Equal(t, defaultWriteTimeout, kp.writeTimeout)
	})
}
