package store

import (
	"context"
	"sort"
	"sync"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"

	"github.com/opennoise/noise-hotspot-service/internal/domain"
	"github.com/opennoise/noise-hotspot-service/internal/geo"
)

// indexCellLevel is the S2 cell level of the spatial index. Level 14 cells
// average ~425 m across, so a cluster-radius (~110 m) lookup touches at most
// a handful of cells.
const indexCellLevel = 14

// fullScanRadiusKm caps how large a radius the cell covering is used for;
// beyond it a covering would span thousands of cells and a linear scan wins.
const fullScanRadiusKm = 50.0

// MemoryHotspotStore is an in-memory HotspotStore indexed by S2 cells.
// All mutations happen under one write lock, which makes the creation guard
// and ApplyAbsorb trivially atomic; reads share an RLock.
type MemoryHotspotStore struct {
	mu    sync.RWMutex
	byID  map[string]domain.Hotspot
	cells map[s2.CellID][]string // index cell -> hotspot ids
}

// NewMemoryHotspotStore creates an empty in-memory hotspot store.
func NewMemoryHotspotStore() *MemoryHotspotStore {
	return &MemoryHotspotStore{
		byID:  make(map[string]domain.Hotspot),
		cells: make(map[s2.CellID][]string),
	}
}

func (s *MemoryHotspotStore) FindNearest(_ context.Context, point geo.Coordinate, radiusKm float64) (domain.Hotspot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	best, ok := s.nearestLocked(point, radiusKm)
	if !ok {
		return domain.Hotspot{}, domain.ErrNotFound
	}
	return best, nil
}

func (s *MemoryHotspotStore) Create(_ context.Context, centroid geo.Coordinate, initialDecibels, guardRadiusKm float64) (domain.Hotspot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Spatial uniqueness guard: a concurrent caller may have founded a
	// hotspot for this neighborhood between the caller's find and this
	// create. Re-check under the write lock.
	if _, ok := s.nearestLocked(centroid, guardRadiusKm); ok {
		return domain.Hotspot{}, domain.ErrConflict
	}

	h := domain.NewHotspot(centroid, initialDecibels)
	s.byID[h.ID] = h
	cell := cellOf(centroid)
	s.cells[cell] = append(s.cells[cell], h.ID)
	return h, nil
}

func (s *MemoryHotspotStore) ApplyAbsorb(_ context.Context, id string, decibels float64) (domain.Hotspot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.byID[id]
	if !ok {
		return domain.Hotspot{}, domain.ErrNotFound
	}
	updated := h.Absorb(decibels)
	s.byID[id] = updated
	return updated, nil
}

func (s *MemoryHotspotStore) GetByID(_ context.Context, id string) (domain.Hotspot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.byID[id]
	if !ok {
		return domain.Hotspot{}, domain.ErrNotFound
	}
	return h, nil
}

func (s *MemoryHotspotStore) ListBySeverityDesc(_ context.Context, limit int) ([]domain.Hotspot, error) {
	s.mu.RLock()
	all := make([]domain.Hotspot, 0, len(s.byID))
	for _, h := range s.byID {
		all = append(all, h)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].AverageDecibels != all[j].AverageDecibels {
			return all[i].AverageDecibels > all[j].AverageDecibels
		}
		if all[i].ReportCount != all[j].ReportCount {
			return all[i].ReportCount > all[j].ReportCount
		}
		return all[i].ID < all[j].ID
	})

	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *MemoryHotspotStore) ListWithinRadius(_ context.Context, point geo.Coordinate, radiusKm float64) ([]domain.Hotspot, error) {
	s.mu.RLock()
	candidates := s.candidatesLocked(point, radiusKm)
	type ranked struct {
		h    domain.Hotspot
		dist float64
	}
	within := make([]ranked, 0, len(candidates))
	for _, h := range candidates {
		if d := geo.HaversineDistanceKm(point, h.Centroid); d <= radiusKm {
			within = append(within, ranked{h: h, dist: d})
		}
	}
	s.mu.RUnlock()

	sort.Slice(within, func(i, j int) bool {
		if within[i].dist != within[j].dist {
			return within[i].dist < within[j].dist
		}
		return within[i].h.ID < within[j].h.ID
	})

	out := make([]domain.Hotspot, len(within))
	for i, r := range within {
		out[i] = r.h
	}
	return out, nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryHotspotStore) Ping(_ context.Context) error { return nil }

// nearestLocked returns the closest hotspot within radiusKm, ties toward the
// smaller id. Callers must hold at least the read lock.
func (s *MemoryHotspotStore) nearestLocked(point geo.Coordinate, radiusKm float64) (domain.Hotspot, bool) {
	var (
		best     domain.Hotspot
		bestDist float64
		found    bool
	)
	for _, h := range s.candidatesLocked(point, radiusKm) {
		d := geo.HaversineDistanceKm(point, h.Centroid)
		if d > radiusKm {
			continue
		}
		if !found || d < bestDist || (d == bestDist && h.ID < best.ID) {
			best, bestDist, found = h, d, true
		}
	}
	return best, found
}

// candidatesLocked returns hotspots whose index cells intersect the search
// cap. Callers must hold at least the read lock.
func (s *MemoryHotspotStore) candidatesLocked(point geo.Coordinate, radiusKm float64) []domain.Hotspot {
	if radiusKm > fullScanRadiusKm {
		all := make([]domain.Hotspot, 0, len(s.byID))
		for _, h := range s.byID {
			all = append(all, h)
		}
		return all
	}

	var out []domain.Hotspot
	for _, cell := range coveringCells(point, radiusKm) {
		for _, id := range s.cells[cell] {
			out = append(out, s.byID[id])
		}
	}
	return out
}

// cellOf maps a coordinate to its index cell.
func cellOf(c geo.Coordinate) s2.CellID {
	return s2.CellIDFromLatLng(s2.LatLngFromDegrees(c.Lat, c.Lon)).Parent(indexCellLevel)
}

// coveringCells returns the index-level cells covering a cap of radiusKm
// around point.
func coveringCells(point geo.Coordinate, radiusKm float64) []s2.CellID {
	center := s2.PointFromLatLng(s2.LatLngFromDegrees(point.Lat, point.Lon))
	searchCap := s2.CapFromCenterAngle(center, s1.Angle(radiusKm/geo.EarthRadiusKm))
	coverer := &s2.RegionCoverer{
		MinLevel: indexCellLevel,
		MaxLevel: indexCellLevel,
		MaxCells: 64,
	}
	return coverer.Covering(searchCap)
}

// MemoryReportStore is an append-only in-memory ReportStore.
type MemoryReportStore struct {
	mu      sync.RWMutex
	byID    map[string]domain.Report
	ordered []domain.Report // insertion order
}

// NewMemoryReportStore creates an empty in-memory report store.
func NewMemoryReportStore() *MemoryReportStore {
	return &MemoryReportStore{byID: make(map[string]domain.Report)}
}

func (s *MemoryReportStore) Append(_ context.Context, report domain.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[report.ID]; exists {
		return domain.ErrConflict
	}
	s.byID[report.ID] = report
	s.ordered = append(s.ordered, report)
	return nil
}

func (s *MemoryReportStore) GetByID(_ context.Context, id string) (domain.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.byID[id]
	if !ok {
		return domain.Report{}, domain.ErrNotFound
	}
	return r, nil
}

func (s *MemoryReportStore) ListInBoundingBox(_ context.Context, box geo.BBox) ([]domain.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Report
	for _, r := range s.ordered {
		if box.Contains(r.Position) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryReportStore) Ping(_ context.Context) error { return nil }
