package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/opennoise/noise-hotspot-service/internal/geo"
)

// Hotspot is a rolling aggregate over a geographic neighborhood.
//
// Centroid stays fixed at the founding report's position. Version backs the
// stores' optimistic concurrency control and increments on every absorption.
type Hotspot struct {
	ID              string         `json:"id"`
	Centroid        geo.Coordinate `json:"centroid"`
	AverageDecibels float64        `json:"average_decibels"`
	ReportCount     int64          `json:"report_count"`
	Version         int64          `json:"-"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// NewHotspot founds a hotspot from its first report.
func NewHotspot(centroid geo.Coordinate, initialDecibels float64) Hotspot {
	now := clock.Now().UTC()
	return Hotspot{
		ID:              uuid.NewString(),
		Centroid:        centroid,
		AverageDecibels: initialDecibels,
		ReportCount:     1,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Absorb returns a copy of h with one more reading folded into the running
// mean. The incremental form mean + (d - mean)/(n+1) avoids the cumulative
// drift of summing, so repeated absorption matches the direct arithmetic
// mean to within IEEE-754 rounding.
func (h Hotspot) Absorb(decibels float64) Hotspot {
	n := h.ReportCount
	h.AverageDecibels += (decibels - h.AverageDecibels) / float64(n+1)
	h.ReportCount = n + 1
	h.Version++
	h.UpdatedAt = clock.Now().UTC()
	return h
}
