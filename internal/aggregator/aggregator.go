// Package aggregator implements the incremental clustering algorithm: each
// accepted report is absorbed into the nearest hotspot within the cluster
// radius, or founds a new hotspot at its own position.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opennoise/noise-hotspot-service/internal/domain"
	"github.com/opennoise/noise-hotspot-service/internal/observability"
	"github.com/opennoise/noise-hotspot-service/internal/store"
)

// DefaultClusterRadiusKm is the default clustering radius. It matches the
// legacy trigger's 0.001° threshold at mid-latitudes, expressed as one true
// distance constant so clustering behaves the same at every latitude.
const DefaultClusterRadiusKm = 0.11

// maxAbsorbAttempts bounds internal retries on conflict before the failure
// surfaces to the caller.
const maxAbsorbAttempts = 3

// Aggregator owns hotspot creation and mutation. All hotspot writes go
// through Absorb; nothing else may touch the running-mean invariant.
type Aggregator struct {
	hotspots store.HotspotStore
	radiusKm float64
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// New creates an Aggregator clustering at radiusKm (<= 0 selects the default).
func New(hotspots store.HotspotStore, radiusKm float64, logger *slog.Logger, metrics *observability.Metrics) *Aggregator {
	if radiusKm <= 0 {
		radiusKm = DefaultClusterRadiusKm
	}
	return &Aggregator{
		hotspots: hotspots,
		radiusKm: radiusKm,
		logger:   logger,
		metrics:  metrics,
	}
}

// ClusterRadiusKm returns the radius this aggregator clusters at. Read paths
// use it to stay consistent with the write path.
func (a *Aggregator) ClusterRadiusKm() float64 {
	return a.radiusKm
}

// Absorb folds one report into the owning hotspot, creating it if no centroid
// lies within the cluster radius (boundary inclusive).
//
// The find-or-create-or-update sequence races with concurrent absorbs near
// the same location; both the creation guard and the store's optimistic
// versioning surface ErrConflict, and each conflict is retried with a fresh
// find so two reports at a new location always converge on one hotspot. Any
// store error propagates: the report is not ingested until absorption
// succeeds.
func (a *Aggregator) Absorb(ctx context.Context, report domain.Report) (domain.Hotspot, error) {
	start := time.Now()
	defer func() {
		a.metrics.AbsorbDuration.Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	for attempt := 1; attempt <= maxAbsorbAttempts; attempt++ {
		hotspot, err := a.absorbOnce(ctx, report)
		if err == nil {
			return hotspot, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return domain.Hotspot{}, err
		}

		lastErr = err
		a.metrics.AbsorbConflicts.Inc()
		a.logger.Debug("absorb conflict, retrying",
			"report_id", report.ID,
			"attempt", attempt,
		)
	}

	return domain.Hotspot{}, fmt.Errorf("absorb report %s: %d attempts: %w", report.ID, maxAbsorbAttempts, lastErr)
}

func (a *Aggregator) absorbOnce(ctx context.Context, report domain.Report) (domain.Hotspot, error) {
	nearest, err := a.hotspots.FindNearest(ctx, report.Position, a.radiusKm)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		created, err := a.hotspots.Create(ctx, report.Position, report.Decibels, a.radiusKm)
		if err != nil {
			return domain.Hotspot{}, err
		}
		a.metrics.HotspotsCreated.Inc()
		a.logger.Info("hotspot founded",
			"hotspot_id", created.ID,
			"lat", created.Centroid.Lat,
			"lon", created.Centroid.Lon,
		)
		return created, nil

	case err != nil:
		return domain.Hotspot{}, fmt.Errorf("find nearest hotspot: %w", err)
	}

	// A hotspot absorbed into concurrently may disappear only under an
	// external merge; treat a vanished id as a conflict and re-run the find.
	updated, err := a.hotspots.ApplyAbsorb(ctx, nearest.ID, report.Decibels)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Hotspot{}, fmt.Errorf("hotspot %s vanished during absorb: %w", nearest.ID, domain.ErrConflict)
	}
	if err != nil {
		return domain.Hotspot{}, err
	}
	a.metrics.HotspotsUpdated.Inc()
	return updated, nil
}
