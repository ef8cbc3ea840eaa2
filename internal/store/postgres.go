package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/opennoise/noise-hotspot-service/internal/domain"
	"github.com/opennoise/noise-hotspot-service/internal/geo"
)

// Postgres bundles the sqlx-backed hotspot and report stores over one pool.
type Postgres struct {
	DB       *sqlx.DB
	Hotspots *PostgresHotspotStore
	Reports  *PostgresReportStore
}

// NewPostgres connects to Postgres and prepares both stores.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{
		DB:       db,
		Hotspots: &PostgresHotspotStore{db: db},
		Reports:  &PostgresReportStore{db: db},
	}, nil
}

// Migrate creates the schema if it does not exist. cell_id is the S2 index
// cell of the centroid, kept for the bbox-independent advisory-lock key.
func (p *Postgres) Migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS hotspots (
	id            TEXT PRIMARY KEY,
	lat           DOUBLE PRECISION NOT NULL,
	lon           DOUBLE PRECISION NOT NULL,
	avg_decibels  DOUBLE PRECISION NOT NULL,
	report_count  BIGINT NOT NULL CHECK (report_count >= 1),
	version       BIGINT NOT NULL,
	cell_id       BIGINT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS hotspots_lat_lon_idx ON hotspots (lat, lon);
CREATE INDEX IF NOT EXISTS hotspots_severity_idx ON hotspots (avg_decibels DESC, report_count DESC, id ASC);

CREATE TABLE IF NOT EXISTS reports (
	id          TEXT PRIMARY KEY,
	reporter_id TEXT,
	lat         DOUBLE PRECISION NOT NULL,
	lon         DOUBLE PRECISION NOT NULL,
	decibels    DOUBLE PRECISION NOT NULL,
	noise_type  TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	media_refs  TEXT[] NOT NULL DEFAULT '{}',
	status      TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS reports_lat_lon_idx ON reports (lat, lon);
`
	if _, err := p.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Ping reports pool liveness for readiness probes.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.DB.PingContext(ctx)
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	return p.DB.Close()
}

// hotspotRow mirrors the hotspots table.
type hotspotRow struct {
	ID          string    `db:"id"`
	Lat         float64   `db:"lat"`
	Lon         float64   `db:"lon"`
	AvgDecibels float64   `db:"avg_decibels"`
	ReportCount int64     `db:"report_count"`
	Version     int64     `db:"version"`
	CellID      int64     `db:"cell_id"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r hotspotRow) toDomain() domain.Hotspot {
	return domain.Hotspot{
		ID:              r.ID,
		Centroid:        geo.Coordinate{Lat: r.Lat, Lon: r.Lon},
		AverageDecibels: r.AvgDecibels,
		ReportCount:     r.ReportCount,
		Version:         r.Version,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

// PostgresHotspotStore implements HotspotStore on Postgres.
//
// Spatial lookups run a bounding-box prefilter in SQL and apply the exact
// Haversine check in Go, so the distance semantics are byte-identical to the
// in-memory store and the aggregator.
type PostgresHotspotStore struct {
	db *sqlx.DB
}

func (s *PostgresHotspotStore) FindNearest(ctx context.Context, point geo.Coordinate, radiusKm float64) (domain.Hotspot, error) {
	candidates, err := s.candidatesInBox(ctx, s.db, geo.BoundingBoxKm(point, radiusKm))
	if err != nil {
		return domain.Hotspot{}, err
	}

	best, ok := nearestOf(candidates, point, radiusKm)
	if !ok {
		return domain.Hotspot{}, domain.ErrNotFound
	}
	return best, nil
}

func (s *PostgresHotspotStore) Create(ctx context.Context, centroid geo.Coordinate, initialDecibels, guardRadiusKm float64) (domain.Hotspot, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Hotspot{}, fmt.Errorf("begin create tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	// Serialize creations per geographic cell: take transaction-scoped
	// advisory locks on every index cell the guard cap touches, in sorted
	// order so concurrent creators cannot deadlock.
	cells := coveringCells(centroid, guardRadiusKm)
	keys := make([]int64, len(cells))
	for i, c := range cells {
		keys[i] = int64(c)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, key); err != nil {
			return domain.Hotspot{}, fmt.Errorf("acquire cell lock: %w", err)
		}
	}

	// Re-check the uniqueness guard now that the neighborhood is locked.
	candidates, err := s.candidatesInBox(ctx, tx, geo.BoundingBoxKm(centroid, guardRadiusKm))
	if err != nil {
		return domain.Hotspot{}, err
	}
	if _, ok := nearestOf(candidates, centroid, guardRadiusKm); ok {
		return domain.Hotspot{}, domain.ErrConflict
	}

	h := domain.NewHotspot(centroid, initialDecibels)
	const insert = `
		INSERT INTO hotspots (id, lat, lon, avg_decibels, report_count, version, cell_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := tx.ExecContext(ctx, insert,
		h.ID, h.Centroid.Lat, h.Centroid.Lon, h.AverageDecibels, h.ReportCount,
		h.Version, int64(cellOf(centroid)), h.CreatedAt, h.UpdatedAt,
	); err != nil {
		return domain.Hotspot{}, fmt.Errorf("insert hotspot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Hotspot{}, fmt.Errorf("commit create: %w", err)
	}
	return h, nil
}

func (s *PostgresHotspotStore) ApplyAbsorb(ctx context.Context, id string, decibels float64) (domain.Hotspot, error) {
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return domain.Hotspot{}, err
	}

	updated := current.Absorb(decibels)

	// Optimistic compare-and-update on the version read above. Zero rows
	// means a concurrent absorb (or a merge) won; the caller retries.
	const update = `
		UPDATE hotspots
		SET avg_decibels = $1, report_count = $2, version = $3, updated_at = $4
		WHERE id = $5 AND version = $6`
	res, err := s.db.ExecContext(ctx, update,
		updated.AverageDecibels, updated.ReportCount, updated.Version, updated.UpdatedAt,
		id, current.Version,
	)
	if err != nil {
		return domain.Hotspot{}, fmt.Errorf("apply absorb: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Hotspot{}, fmt.Errorf("apply absorb rows affected: %w", err)
	}
	if affected == 0 {
		return domain.Hotspot{}, domain.ErrConflict
	}
	return updated, nil
}

func (s *PostgresHotspotStore) GetByID(ctx context.Context, id string) (domain.Hotspot, error) {
	var row hotspotRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM hotspots WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Hotspot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Hotspot{}, fmt.Errorf("get hotspot: %w", err)
	}
	return row.toDomain(), nil
}

func (s *PostgresHotspotStore) ListBySeverityDesc(ctx context.Context, limit int) ([]domain.Hotspot, error) {
	var rows []hotspotRow
	query := `
		SELECT * FROM hotspots
		ORDER BY avg_decibels DESC, report_count DESC, id ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list hotspots by severity: %w", err)
	}
	out := make([]domain.Hotspot, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *PostgresHotspotStore) ListWithinRadius(ctx context.Context, point geo.Coordinate, radiusKm float64) ([]domain.Hotspot, error) {
	candidates, err := s.candidatesInBox(ctx, s.db, geo.BoundingBoxKm(point, radiusKm))
	if err != nil {
		return nil, err
	}

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

func (s *PostgresHotspotStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// candidatesInBox fetches hotspots inside the bbox prefilter. Wrapped boxes
// (antimeridian) split the longitude condition into a disjunction.
func (s *PostgresHotspotStore) candidatesInBox(ctx context.Context, q sqlx.QueryerContext, box geo.BBox) ([]domain.Hotspot, error) {
	var (
		rows  []hotspotRow
		query string
	)
	if box.Wraps() {
		query = `SELECT * FROM hotspots WHERE lat BETWEEN $1 AND $2 AND (lon >= $3 OR lon <= $4)`
	} else {
		query = `SELECT * FROM hotspots WHERE lat BETWEEN $1 AND $2 AND lon BETWEEN $3 AND $4`
	}
	if err := sqlx.SelectContext(ctx, q, &rows, query, box.MinLat, box.MaxLat, box.MinLon, box.MaxLon); err != nil {
		return nil, fmt.Errorf("hotspot bbox query: %w", err)
	}
	out := make([]domain.Hotspot, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// nearestOf picks the closest hotspot within radiusKm, ties toward the
// smaller id.
func nearestOf(candidates []domain.Hotspot, point geo.Coordinate, radiusKm float64) (domain.Hotspot, bool) {
	var (
		best     domain.Hotspot
		bestDist float64
		found    bool
	)
	for _, h := range candidates {
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

// reportRow mirrors the reports table.
type reportRow struct {
	ID          string         `db:"id"`
	ReporterID  sql.NullString `db:"reporter_id"`
	Lat         float64        `db:"lat"`
	Lon         float64        `db:"lon"`
	Decibels    float64        `db:"decibels"`
	NoiseType   string         `db:"noise_type"`
	Description string         `db:"description"`
	MediaRefs   pq.StringArray `db:"media_refs"`
	Status      string         `db:"status"`
	CreatedAt   time.Time      `db:"created_at"`
}

func (r reportRow) toDomain() domain.Report {
	return domain.Report{
		ID:          r.ID,
		ReporterID:  r.ReporterID.String,
		Position:    geo.Coordinate{Lat: r.Lat, Lon: r.Lon},
		Decibels:    r.Decibels,
		NoiseType:   domain.NoiseType(r.NoiseType),
		Description: r.Description,
		MediaRefs:   r.MediaRefs,
		Status:      domain.ReportStatus(r.Status),
		CreatedAt:   r.CreatedAt,
	}
}

// PostgresReportStore implements the append-only ReportStore on Postgres.
type PostgresReportStore struct {
	db *sqlx.DB
}

func (s *PostgresReportStore) Append(ctx context.Context, report domain.Report) error {
	reporter := sql.NullString{String: report.ReporterID, Valid: report.ReporterID != ""}
	const insert = `
		INSERT INTO reports (id, reporter_id, lat, lon, decibels, noise_type, description, media_refs, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if _, err := s.db.ExecContext(ctx, insert,
		report.ID, reporter, report.Position.Lat, report.Position.Lon,
		report.Decibels, string(report.NoiseType), report.Description,
		pq.StringArray(report.MediaRefs), string(report.Status), report.CreatedAt,
	); err != nil {
		return fmt.Errorf("append report: %w", err)
	}
	return nil
}

func (s *PostgresReportStore) GetByID(ctx context.Context, id string) (domain.Report, error) {
	var row reportRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM reports WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Report{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Report{}, fmt.Errorf("get report: %w", err)
	}
	return row.toDomain(), nil
}

func (s *PostgresReportStore) ListInBoundingBox(ctx context.Context, box geo.BBox) ([]domain.Report, error) {
	var (
		rows  []reportRow
		query string
	)
	if box.Wraps() {
		query = `SELECT * FROM reports WHERE lat BETWEEN $1 AND $2 AND (lon >= $3 OR lon <= $4) ORDER BY created_at ASC`
	} else {
		query = `SELECT * FROM reports WHERE lat BETWEEN $1 AND $2 AND lon BETWEEN $3 AND $4 ORDER BY created_at ASC`
	}
	if err := s.db.SelectContext(ctx, &rows, query, box.MinLat, box.MaxLat, box.MinLon, box.MaxLon); err != nil {
		return nil, fmt.Errorf("report bbox query: %w", err)
	}
	out := make([]domain.Report, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *PostgresReportStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
