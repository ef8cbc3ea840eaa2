// Package store defines the persistence contracts for hotspots and reports,
// with an in-memory implementation for single-node deployments and tests and
// a Postgres implementation for durable multi-instance setups.
//
// The hotspot store is the only shared mutable resource in the core. Both
// implementations guarantee:
//
//   - ApplyAbsorb is atomic with respect to concurrent absorptions into the
//     same hotspot (mutex in memory, optimistic versioning in Postgres).
//   - Create enforces a spatial uniqueness guard: if another hotspot centroid
//     already lies within the guard radius, the create fails with ErrConflict
//     so the caller re-runs its find step instead of producing a duplicate
//     hotspot for the same cluster.
//
// Hotspots are never deleted here; garbage collection of stale hotspots is an
// external policy.
package store

import (
	"context"

	"github.com/opennoise/noise-hotspot-service/internal/domain"
	"github.com/opennoise/noise-hotspot-service/internal/geo"
)

// HotspotStore is the durable keyed collection of hotspots with spatial lookup.
type HotspotStore interface {
	// FindNearest returns the single closest hotspot whose centroid lies
	// within radiusKm of point (boundary inclusive), or ErrNotFound if none
	// qualifies. Exact floating-point distance ties break toward the smaller id.
	FindNearest(ctx context.Context, point geo.Coordinate, radiusKm float64) (domain.Hotspot, error)

	// Create inserts a new hotspot founded at centroid with a single absorbed
	// reading. If any existing centroid lies within guardRadiusKm it returns
	// ErrConflict without inserting.
	Create(ctx context.Context, centroid geo.Coordinate, initialDecibels, guardRadiusKm float64) (domain.Hotspot, error)

	// ApplyAbsorb atomically folds one reading into the hotspot's running
	// mean and increments its report count, returning the updated record.
	// Returns ErrNotFound for unknown ids and ErrConflict when a concurrent
	// update won the race (caller retries).
	ApplyAbsorb(ctx context.Context, id string, decibels float64) (domain.Hotspot, error)

	GetByID(ctx context.Context, id string) (domain.Hotspot, error)

	// ListBySeverityDesc orders by average decibels descending, ties broken
	// by report count descending then id ascending.
	ListBySeverityDesc(ctx context.Context, limit int) ([]domain.Hotspot, error)

	// ListWithinRadius returns all hotspots whose centroid lies within
	// radiusKm of point (inclusive), nearest first, ties by id ascending.
	ListWithinRadius(ctx context.Context, point geo.Coordinate, radiusKm float64) ([]domain.Hotspot, error)
}

// ReportStore is append-only: reports are immutable once written.
type ReportStore interface {
	Append(ctx context.Context, report domain.Report) error
	GetByID(ctx context.Context, id string) (domain.Report, error)

	// ListInBoundingBox returns reports whose position falls inside the box.
	// The box is a coarse prefilter; callers apply exact distance checks.
	ListInBoundingBox(ctx context.Context, box geo.BBox) ([]domain.Report, error)
}

// Pinger reports store liveness for readiness probes.
type Pinger interface {
	Ping(ctx context.Context) error
}
