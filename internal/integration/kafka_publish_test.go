//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/couchcryptid/wastewater-etl/internal/adapter/kafka"
	"github.com/couchcryptid/wastewater-etl/internal/config"
	"github.com/couchcryptid/wastewater-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

const testRunTopic = "test-wastewater-updates"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("wastewater-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// TestPublishRun verifies a run summary published by kafka.Writer can be read
// back from the run topic with its key, headers and payload intact.
func TestPublishRun(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testRunTopic)

	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaRunTopic: testRunTopic}
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	run := domain.Run{
		RemoteVersion: time.Date(2022, 11, 18, 0, 0, 0, 0, time.UTC),
		LocalVersion:  time.Date(2022, 11, 11, 0, 0, 0, 0, time.UTC),
		Fetched:       31250,
		Format:        "csv",
		Outcome:       domain.OutcomeFallback,
		BackupTable:   "2022-11-11",
		StartedAt:     time.Date(2022, 11, 19, 6, 30, 0, 0, time.UTC),
		Duration:      3 * time.Minute,
	}
	require.NoError(t, writer.PublishRun(ctx, run))

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:   []string{broker},
		Topic:     testRunTopic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  1 << 20,
	})
	t.Cleanup(func() { _ = reader.Close() })

	readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
	defer readCancel()
	msg, err := reader.ReadMessage(readCtx)
	require.NoError(t, err, "read from run topic")

	assert.Equal(t, "2022-11-18", string(msg.Key))
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "fallback-used", headers["outcome"])

	var got domain.Run
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, run.Outcome, got.Outcome)
	assert.Equal(t, run.Fetched, got.Fetched)
	assert.Equal(t, run.BackupTable, got.BackupTable)
	assert.Equal(t, run.Duration, got.Duration)
}
