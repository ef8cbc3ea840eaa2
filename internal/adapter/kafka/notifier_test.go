package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opennoise/noise-hotspot-service/internal/domain"
	"github.com/opennoise/noise-hotspot-service/internal/geo"
)

func TestSerializeEvent_ReportCreated(t *testing.T) {
	report := domain.Report{
		ID:        "r-1",
		Position:  geo.Coordinate{Lat: 28.6139, Lon: 77.2090},
		Decibels:  85.5,
		NoiseType: domain.NoiseTraffic,
		Status:    domain.StatusPending,
	}

	msg, err := serializeEvent(EventReportCreated, report.ID, report)
	require.NoError(t, err)

	assert.Equal(t, []byte("r-1"), msg.Key)

	var env struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	assert.Equal(t, EventReportCreated, env.Type)

	var decoded domain.Report
	require.NoError(t, json.Unmarshal(env.Payload, &decoded))
	assert.Equal(t, report.ID, decoded.ID)
	assert.Equal(t, report.Decibels, decoded.Decibels)
	assert.Equal(t, report.Position, decoded.Position)
}

func TestSerializeEvent_HotspotUpdatedHeaders(t *testing.T) {
	hotspot := domain.Hotspot{
		ID:              "h-1",
		Centroid:        geo.Coordinate{Lat: 28.6139, Lon: 77.2090},
		AverageDecibels: 87.75,
		ReportCount:     2,
	}

	msg, err := serializeEvent(EventHotspotUpdated, hotspot.ID, hotspot)
	require.NoError(t, err)

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, EventHotspotUpdated, headers["event_type"])

	emitted, err := time.Parse(time.RFC3339, headers["emitted_at"])
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), emitted, time.Minute)
}

func TestSerializeEvent_VersionStaysInternal(t *testing.T) {
	hotspot := domain.Hotspot{ID: "h-1", Version: 7}

	msg, err := serializeEvent(EventHotspotUpdated, hotspot.ID, hotspot)
	require.NoError(t, err)
	assert.NotContains(t, string(msg.Value), "version")
}
