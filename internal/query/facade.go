// Package query provides the read paths: reports near a point, hotspots near
// a point, and top hotspots by severity.
//
// All radius checks go through the same geo primitives as the aggregator, so
// a report accepted into a hotspot is always included when querying that
// hotspot's neighborhood.
package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/opennoise/noise-hotspot-service/internal/domain"
	"github.com/opennoise/noise-hotspot-service/internal/geo"
	"github.com/opennoise/noise-hotspot-service/internal/store"
)

// DefaultTopLimit applies when TopHotspots is called without a positive limit.
const DefaultTopLimit = 20

// ReportFilters narrows ReportsNear results. Nil fields match everything.
type ReportFilters struct {
	NoiseType   *domain.NoiseType
	MinDecibels *float64
	MaxDecibels *float64
}

func (f ReportFilters) matches(r domain.Report) bool {
	if f.NoiseType != nil && r.NoiseType != *f.NoiseType {
		return false
	}
	if f.MinDecibels != nil && r.Decibels < *f.MinDecibels {
		return false
	}
	if f.MaxDecibels != nil && r.Decibels > *f.MaxDecibels {
		return false
	}
	return true
}

// Facade is the read-only view over both stores.
type Facade struct {
	reports  store.ReportStore
	hotspots store.HotspotStore
}

// New creates a query facade.
func New(reports store.ReportStore, hotspots store.HotspotStore) *Facade {
	return &Facade{reports: reports, hotspots: hotspots}
}

// ReportsNear returns reports within radiusKm of point (inclusive) that pass
// the filters, nearest first, ties by id ascending.
func (f *Facade) ReportsNear(ctx context.Context, point geo.Coordinate, radiusKm float64, filters ReportFilters) ([]domain.Report, error) {
	if radiusKm <= 0 {
		return nil, &domain.ValidationError{Field: "radius_km", Reason: fmt.Sprintf("%v must be positive", radiusKm)}
	}

	candidates, err := f.reports.ListInBoundingBox(ctx, geo.BoundingBoxKm(point, radiusKm))
	if err != nil {
		return nil, fmt.Errorf("reports near: %w", err)
	}

	type ranked struct {
		r    domain.Report
		dist float64
	}
	within := make([]ranked, 0, len(candidates))
	for _, r := range candidates {
		if !filters.matches(r) {
			continue
		}
		if d := geo.HaversineDistanceKm(point, r.Position); d <= radiusKm {
			within = append(within, ranked{r: r, dist: d})
		}
	}

	sort.Slice(within, func(i, j int) bool {
		if within[i].dist != within[j].dist {
			return within[i].dist < within[j].dist
		}
		return within[i].r.ID < within[j].r.ID
	})

	out := make([]domain.Report, len(within))
	for i, rr := range within {
		out[i] = rr.r
	}
	return out, nil
}

// HotspotsNear returns hotspots whose centroid lies within radiusKm of point
// (inclusive), nearest first.
func (f *Facade) HotspotsNear(ctx context.Context, point geo.Coordinate, radiusKm float64) ([]domain.Hotspot, error) {
	if radiusKm <= 0 {
		return nil, &domain.ValidationError{Field: "radius_km", Reason: fmt.Sprintf("%v must be positive", radiusKm)}
	}
	hotspots, err := f.hotspots.ListWithinRadius(ctx, point, radiusKm)
	if err != nil {
		return nil, fmt.Errorf("hotspots near: %w", err)
	}
	return hotspots, nil
}

// TopHotspots returns up to limit hotspots ordered by average decibels
// descending, ties by report count descending then id ascending.
func (f *Facade) TopHotspots(ctx context.Context, limit int) ([]domain.Hotspot, error) {
	if limit <= 0 {
		limit = DefaultTopLimit
	}
	hotspots, err := f.hotspots.ListBySeverityDesc(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("top hotspots: %w", err)
	}
	return hotspots, nil
}

// HotspotByID returns a single hotspot, ErrNotFound if absent.
func (f *Facade) HotspotByID(ctx context.Context, id string) (domain.Hotspot, error) {
	return f.hotspots.GetByID(ctx, id)
}
