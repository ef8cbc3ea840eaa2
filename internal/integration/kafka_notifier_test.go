//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kafkaadapter "github.com/opennoise/noise-hotspot-service/internal/adapter/kafka"
	"github.com/opennoise/noise-hotspot-service/internal/aggregator"
	"github.com/opennoise/noise-hotspot-service/internal/config"
	"github.com/opennoise/noise-hotspot-service/internal/domain"
	"github.com/opennoise/noise-hotspot-service/internal/geo"
	"github.com/opennoise/noise-hotspot-service/internal/ingest"
	"github.com/opennoise/noise-hotspot-service/internal/observability"
	"github.com/opennoise/noise-hotspot-service/internal/store"
)

const testEventsTopic = "test-noise-events"

// changeEvent holds a deserialized change notification from the events topic.
type changeEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Key     string          `json:"-"`
	Headers map[string]string
}

// readEvent reads a single change notification from the consumer.
func readEvent(ctx context.Context, t *testing.T, consumer *kafkago.Reader) changeEvent {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from events topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var ev changeEvent
	require.NoError(t, json.Unmarshal(msg.Value, &ev), "unmarshal change notification")
	ev.Key = string(msg.Key)
	ev.Headers = headers
	return ev
}

// TestNotifierRoundTrip verifies that the Kafka notifier publishes report and
// hotspot change notifications consumers can decode.
func TestNotifierRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testEventsTopic)

	cfg := &config.Config{
		KafkaBrokers:     []string{broker},
		KafkaEventsTopic: testEventsTopic,
		KafkaEnabled:     true,
	}

	notifier := kafkaadapter.NewNotifier(cfg, discardLogger())
	t.Cleanup(func() { _ = notifier.Close() })

	report := domain.Report{
		ID:        "r-integration-1",
		Position:  geo.Coordinate{Lat: 28.6139, Lon: 77.2090},
		Decibels:  85.5,
		NoiseType: domain.NoiseTraffic,
		Status:    domain.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, notifier.PublishReportCreated(ctx, report))

	hotspot := domain.Hotspot{
		ID:              "h-integration-1",
		Centroid:        geo.Coordinate{Lat: 28.6139, Lon: 77.2090},
		AverageDecibels: 87.75,
		ReportCount:     2,
	}
	require.NoError(t, notifier.PublishHotspotUpdated(ctx, hotspot))

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testEventsTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	first := readEvent(ctx, t, consumer)
	assert.Equal(t, kafkaadapter.EventReportCreated, first.Type)
	assert.Equal(t, report.ID, first.Key)
	assert.Equal(t, kafkaadapter.EventReportCreated, first.Headers["event_type"])
	_, err := time.Parse(time.RFC3339, first.Headers["emitted_at"])
	assert.NoError(t, err, "emitted_at should be valid RFC3339")

	var gotReport domain.Report
	require.NoError(t, json.Unmarshal(first.Payload, &gotReport))
	assert.Equal(t, report.ID, gotReport.ID)
	assert.Equal(t, report.Decibels, gotReport.Decibels)

	second := readEvent(ctx, t, consumer)
	assert.Equal(t, kafkaadapter.EventHotspotUpdated, second.Type)
	assert.Equal(t, hotspot.ID, second.Key)

	var gotHotspot domain.Hotspot
	require.NoError(t, json.Unmarshal(second.Payload, &gotHotspot))
	assert.Equal(t, int64(2), gotHotspot.ReportCount)
	assert.Equal(t, 87.75, gotHotspot.AverageDecibels)
}

// TestIngestPublishesNotifications wires the full ingestion path against real
// Kafka: a submitted report yields a report_created and a hotspot_updated
// notification on the events topic.
func TestIngestPublishesNotifications(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testEventsTopic)

	cfg := &config.Config{
		KafkaBrokers:     []string{broker},
		KafkaEventsTopic: testEventsTopic,
		KafkaEnabled:     true,
	}

	notifier := kafkaadapter.NewNotifier(cfg, discardLogger())
	t.Cleanup(func() { _ = notifier.Close() })

	logger := discardLogger()
	metrics := observability.NewMetricsForTesting()
	hotspots := store.NewMemoryHotspotStore()
	agg := aggregator.New(hotspots, 0, logger, metrics)
	svc := ingest.New(store.NewMemoryReportStore(), agg, notifier, hotspots, logger, metrics, 30*time.Second)

	result, err := svc.Submit(ctx, domain.ReportSubmission{
		ReporterID: "user-42",
		Latitude:   28.6139,
		Longitude:  77.2090,
		Decibels:   85.5,
		NoiseType:  domain.NoiseTraffic,
	})
	require.NoError(t, err)

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testEventsTopic,
		GroupID:     fmt.Sprintf("test-ingest-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	created := readEvent(ctx, t, consumer)
	assert.Equal(t, kafkaadapter.EventReportCreated, created.Type)
	assert.Equal(t, result.Report.ID, created.Key)

	updated := readEvent(ctx, t, consumer)
	assert.Equal(t, kafkaadapter.EventHotspotUpdated, updated.Type)
	assert.Equal(t, result.Hotspot.ID, updated.Key)

	var gotHotspot domain.Hotspot
	require.NoError(t, json.Unmarshal(updated.Payload, &gotHotspot))
	assert.Equal(t, int64(1), gotHotspot.ReportCount)
	assert.Equal(t, 85.5, gotHotspot.AverageDecibels)
}
