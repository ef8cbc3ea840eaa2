package ingest_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opennoise/noise-hotspot-service/internal/aggregator"
	"github.com/opennoise/noise-hotspot-service/internal/domain"
	"github.com/opennoise/noise-hotspot-service/internal/geo"
	"github.com/opennoise/noise-hotspot-service/internal/ingest"
	"github.com/opennoise/noise-hotspot-service/internal/observability"
	"github.com/opennoise/noise-hotspot-service/internal/store"
)

// recordingNotifier captures published events for assertions.
type recordingNotifier struct {
	reports  []domain.Report
	hotspots []domain.Hotspot
	err      error
}

func (n *recordingNotifier) PublishReportCreated(_ context.Context, r domain.Report) error {
	if n.err != nil {
		return n.err
	}
	n.reports = append(n.reports, r)
	return nil
}

func (n *recordingNotifier) PublishHotspotUpdated(_ context.Context, h domain.Hotspot) error {
	if n.err != nil {
		return n.err
	}
	n.hotspots = append(n.hotspots, h)
	return nil
}

type fixture struct {
	svc      *ingest.Service
	hotspots *store.MemoryHotspotStore
	reports  *store.MemoryReportStore
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()
	hotspots := store.NewMemoryHotspotStore()
	reports := store.NewMemoryReportStore()
	notifier := &recordingNotifier{}
	agg := aggregator.New(hotspots, 0, logger, metrics)

	return &fixture{
		svc:      ingest.New(reports, agg, notifier, hotspots, logger, metrics, 5*time.Second),
		hotspots: hotspots,
		reports:  reports,
		notifier: notifier,
	}
}

func validSubmission() domain.ReportSubmission {
	return domain.ReportSubmission{
		ReporterID: "user-42",
		Latitude:   28.6139,
		Longitude:  77.2090,
		Decibels:   85.5,
		NoiseType:  domain.NoiseTraffic,
	}
}

func TestSubmit_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Submit(ctx, validSubmission())
	require.NoError(t, err)

	assert.NotEmpty(t, result.Report.ID)
	assert.Equal(t, domain.StatusPending, result.Report.Status)
	assert.Equal(t, int64(1), result.Hotspot.ReportCount)
	assert.Equal(t, 85.5, result.Hotspot.AverageDecibels)

	// The report is persisted and the hotspot queryable.
	persisted, err := f.reports.GetByID(ctx, result.Report.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Report, persisted)

	got, err := f.hotspots.GetByID(ctx, result.Hotspot.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Hotspot, got)

	// Both change notifications were published.
	require.Len(t, f.notifier.reports, 1)
	require.Len(t, f.notifier.hotspots, 1)
	assert.Equal(t, result.Report.ID, f.notifier.reports[0].ID)
	assert.Equal(t, result.Hotspot.ID, f.notifier.hotspots[0].ID)
}

func TestSubmit_TwoNearbyReportsShareAHotspot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Submit(ctx, validSubmission())
	require.NoError(t, err)

	second := validSubmission()
	second.Latitude = 28.6140
	second.Longitude = 77.2091
	second.Decibels = 90.0

	result, err := f.svc.Submit(ctx, second)
	require.NoError(t, err)

	assert.Equal(t, first.Hotspot.ID, result.Hotspot.ID)
	assert.Equal(t, int64(2), result.Hotspot.ReportCount)
	assert.InDelta(t, 87.75, result.Hotspot.AverageDecibels, 1e-12)
}

func TestSubmit_ValidationFailureShortCircuits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub := validSubmission()
	sub.Decibels = 150

	_, err := f.svc.Submit(ctx, sub)
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	// Nothing was persisted and nothing published.
	all, err := f.hotspots.ListBySeverityDesc(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Empty(t, f.notifier.reports)
}

// failingReportStore rejects every append.
type failingReportStore struct {
	store.ReportStore
	err error
}

func (s *failingReportStore) Append(context.Context, domain.Report) error { return s.err }

func TestSubmit_AppendFailureAbortsBeforeAggregation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()
	hotspots := store.NewMemoryHotspotStore()
	agg := aggregator.New(hotspots, 0, logger, metrics)
	svc := ingest.New(&failingReportStore{err: errors.New("disk full")}, agg, nil, hotspots, logger, metrics, 5*time.Second)

	_, err := svc.Submit(context.Background(), validSubmission())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist report")

	// No hotspot was created for the failed submission.
	all, err := hotspots.ListBySeverityDesc(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSubmit_TimeoutMapsToStoreUnavailable(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()
	hotspots := store.NewMemoryHotspotStore()
	agg := aggregator.New(hotspots, 0, logger, metrics)
	failing := &failingReportStore{err: context.DeadlineExceeded}
	svc := ingest.New(failing, agg, nil, hotspots, logger, metrics, 5*time.Second)

	_, err := svc.Submit(context.Background(), validSubmission())
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestSubmit_NotifierFailureDoesNotFailIngestion(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("broker down")

	result, err := f.svc.Submit(context.Background(), validSubmission())
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Hotspot.ReportCount)
}

func TestSubmit_NilNotifier(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()
	hotspots := store.NewMemoryHotspotStore()
	agg := aggregator.New(hotspots, 0, logger, metrics)
	svc := ingest.New(store.NewMemoryReportStore(), agg, nil, hotspots, logger, metrics, 5*time.Second)

	_, err := svc.Submit(context.Background(), validSubmission())
	assert.NoError(t, err)
}

// failingPinger simulates an unreachable store.
type failingPinger struct{ err error }

func (p *failingPinger) Ping(context.Context) error { return p.err }

func TestCheckReadiness(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.svc.CheckReadiness(context.Background()))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()
	hotspots := store.NewMemoryHotspotStore()
	agg := aggregator.New(hotspots, 0, logger, metrics)
	svc := ingest.New(store.NewMemoryReportStore(), agg, nil, &failingPinger{err: errors.New("connection refused")}, logger, metrics, 5*time.Second)

	err := svc.CheckReadiness(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store unreachable")
}

func TestSubmit_AnonymousReportKeepsPosition(t *testing.T) {
	f := newFixture(t)

	sub := validSubmission()
	sub.IsAnonymous = true

	result, err := f.svc.Submit(context.Background(), sub)
	require.NoError(t, err)
	assert.Empty(t, result.Report.ReporterID)
	assert.Equal(t, geo.Coordinate{Lat: 28.6139, Lon: 77.2090}, result.Report.Position)
}
