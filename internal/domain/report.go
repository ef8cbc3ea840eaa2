package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opennoise/noise-hotspot-service/internal/geo"
)

// Decibel domain bounds for a valid reading.
const (
	MinDecibels = 0.0
	MaxDecibels = 120.0
)

// NoiseType classifies the source of a noise report.
type NoiseType string

const (
	NoiseTraffic      NoiseType = "traffic"
	NoiseConstruction NoiseType = "construction"
	NoiseEvents       NoiseType = "events"
	NoiseIndustrial   NoiseType = "industrial"
	NoiseOther        NoiseType = "other"
)

// Valid reports whether t is a member of the fixed enumeration.
func (t NoiseType) Valid() bool {
	switch t {
	case NoiseTraffic, NoiseConstruction, NoiseEvents, NoiseIndustrial, NoiseOther:
		return true
	}
	return false
}

// ReportStatus tracks the external moderation workflow. Aggregation ignores it.
type ReportStatus string

const (
	StatusPending  ReportStatus = "pending"
	StatusReviewed ReportStatus = "reviewed"
	StatusResolved ReportStatus = "resolved"
)

// ReportSubmission is the inbound record accepted by ingestion. External
// adapters are responsible for normalizing any legacy field variants before
// building one; this is the canonical, strict schema.
type ReportSubmission struct {
	ReporterID  string    `json:"reporter_id,omitempty"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Decibels    float64   `json:"decibels"`
	NoiseType   NoiseType `json:"noise_type"`
	Description string    `json:"description,omitempty"`
	MediaRefs   []string  `json:"media_refs,omitempty"`
	IsAnonymous bool      `json:"is_anonymous"`
}

// Validate rejects out-of-range or malformed fields with a descriptive
// ValidationError. Nothing is coerced.
func (s ReportSubmission) Validate() error {
	if s.Latitude < -90 || s.Latitude > 90 {
		return &ValidationError{Field: "latitude", Reason: fmt.Sprintf("%v out of range [-90, 90]", s.Latitude)}
	}
	if s.Longitude < -180 || s.Longitude > 180 {
		return &ValidationError{Field: "longitude", Reason: fmt.Sprintf("%v out of range [-180, 180]", s.Longitude)}
	}
	if s.Decibels < MinDecibels || s.Decibels > MaxDecibels {
		return &ValidationError{Field: "decibels", Reason: fmt.Sprintf("%v out of range [0, 120]", s.Decibels)}
	}
	if !s.NoiseType.Valid() {
		return &ValidationError{Field: "noise_type", Reason: fmt.Sprintf("%q is not one of traffic, construction, events, industrial, other", s.NoiseType)}
	}
	if !s.IsAnonymous && s.ReporterID == "" {
		return &ValidationError{Field: "reporter_id", Reason: "required unless the report is anonymous"}
	}
	return nil
}

// Report is an immutable noise observation. Only Status may change after
// creation, and only via the external moderation workflow.
type Report struct {
	ID          string         `json:"id"`
	ReporterID  string         `json:"reporter_id,omitempty"`
	Position    geo.Coordinate `json:"position"`
	Decibels    float64        `json:"decibels"`
	NoiseType   NoiseType      `json:"noise_type"`
	Description string         `json:"description,omitempty"`
	MediaRefs   []string       `json:"media_refs,omitempty"`
	Status      ReportStatus   `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NewReport validates a submission and builds the Report to persist.
// Anonymous submissions drop the reporter id even if one was supplied.
func NewReport(s ReportSubmission) (Report, error) {
	if err := s.Validate(); err != nil {
		return Report{}, err
	}

	reporterID := s.ReporterID
	if s.IsAnonymous {
		reporterID = ""
	}

	return Report{
		ID:          uuid.NewString(),
		ReporterID:  reporterID,
		Position:    geo.Coordinate{Lat: s.Latitude, Lon: s.Longitude},
		Decibels:    s.Decibels,
		NoiseType:   s.NoiseType,
		Description: s.Description,
		MediaRefs:   s.MediaRefs,
		Status:      StatusPending,
		CreatedAt:   clock.Now().UTC(),
	}, nil
}
