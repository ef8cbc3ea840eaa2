// Package kafka publishes change notifications to the events topic for
// external collaborators (push notifications, live map updates).
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/opennoise/noise-hotspot-service/internal/config"
	"github.com/opennoise/noise-hotspot-service/internal/domain"
)

// Event types carried in the envelope and the event_type header.
const (
	EventReportCreated  = "report_created"
	EventHotspotUpdated = "hotspot_updated"
)

// envelope is the wire format of a change notification.
type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Notifier produces change notifications to a Kafka topic.
// It implements ingest.Notifier.
type Notifier struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewNotifier creates a Kafka producer for the configured events topic.
func NewNotifier(cfg *config.Config, logger *slog.Logger) *Notifier {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaEventsTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Notifier{writer: w, logger: logger}
}

// PublishReportCreated emits a report_created event keyed by report id.
func (n *Notifier) PublishReportCreated(ctx context.Context, report domain.Report) error {
	msg, err := serializeEvent(EventReportCreated, report.ID, report)
	if err != nil {
		return err
	}
	return n.writer.WriteMessages(ctx, msg)
}

// PublishHotspotUpdated emits a hotspot_updated event keyed by hotspot id,
// so consumers see per-hotspot ordering within a partition.
func (n *Notifier) PublishHotspotUpdated(ctx context.Context, hotspot domain.Hotspot) error {
	msg, err := serializeEvent(EventHotspotUpdated, hotspot.ID, hotspot)
	if err != nil {
		return err
	}
	return n.writer.WriteMessages(ctx, msg)
}

func (n *Notifier) Close() error {
	return n.writer.Close()
}

// serializeEvent marshals an envelope into a Kafka message.
func serializeEvent(eventType, key string, payload any) (kafkago.Message, error) {
	data, err := json.Marshal(envelope{Type: eventType, Payload: payload})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize %s event: %w", eventType, err)
	}
	return kafkago.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "emitted_at", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		},
	}, nil
}
