package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/wastewater-etl/internal/config"
	"github.com/couchcryptid/wastewater-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer publishes update-run summaries to a Kafka topic.
// It implements pipeline.RunPublisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured run topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaRunTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishRun announces one finished run. Runs are keyed by remote version so
// every run against the same upstream edit lands on the same partition.
func (w *Writer) PublishRun(ctx context.Context, run domain.Run) error {
	msg, err := serializeToMessage(run)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish run to %s: %w", w.writer.Topic, err)
	}
	w.logger.Debug("run summary published", "topic", w.writer.Topic, "outcome", run.Outcome)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a Run into a Kafka message.
func serializeToMessage(run domain.Run) (kafkago.Message, error) {
	data, err := json.Marshal(run)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize run: %w", err)
	}
	key := domain.ISODate(run.RemoteVersion)
	if key == "" {
		key = "unknown"
	}
	return kafkago.Message{
		Key:   []byte(key),
		Value: data,
		Time:  run.StartedAt,
		Headers: []kafkago.Header{
			{Key: "outcome", Value: []byte(run.Outcome)},
			{Key: "started_at", Value: []byte(run.StartedAt.Format(time.RFC3339))},
		},
	}, nil
}
