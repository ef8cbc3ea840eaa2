// Package ingest validates and persists inbound noise reports, then invokes
// the aggregator exactly once per accepted report.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opennoise/noise-hotspot-service/internal/aggregator"
	"github.com/opennoise/noise-hotspot-service/internal/domain"
	"github.com/opennoise/noise-hotspot-service/internal/observability"
	"github.com/opennoise/noise-hotspot-service/internal/store"
)

// Notifier publishes change notifications after a successful absorb.
// Delivery is at-least-once; failures are logged and counted, never turned
// into ingestion failures.
type Notifier interface {
	PublishReportCreated(ctx context.Context, report domain.Report) error
	PublishHotspotUpdated(ctx context.Context, hotspot domain.Hotspot) error
}

// Result is what a submitter receives on success: the persisted report and
// the hotspot that absorbed it. There is no partial-success state.
type Result struct {
	Report  domain.Report  `json:"report"`
	Hotspot domain.Hotspot `json:"hotspot"`
}

// Service is the report ingestion path.
type Service struct {
	reports      store.ReportStore
	aggregator   *aggregator.Aggregator
	notifier     Notifier // nil disables notifications
	pinger       store.Pinger
	logger       *slog.Logger
	metrics      *observability.Metrics
	storeTimeout time.Duration
}

// New creates the ingestion service. Pass a nil notifier to disable change
// notifications.
func New(reports store.ReportStore, agg *aggregator.Aggregator, notifier Notifier, pinger store.Pinger, logger *slog.Logger, metrics *observability.Metrics, storeTimeout time.Duration) *Service {
	return &Service{
		reports:      reports,
		aggregator:   agg,
		notifier:     notifier,
		pinger:       pinger,
		logger:       logger,
		metrics:      metrics,
		storeTimeout: storeTimeout,
	}
}

// Submit validates the submission, persists the report with status pending,
// and absorbs it into a hotspot. Every store round-trip shares one bounded
// timeout; a timed-out absorb is a failure, never a "probably succeeded".
func (s *Service) Submit(ctx context.Context, sub domain.ReportSubmission) (Result, error) {
	report, err := domain.NewReport(sub)
	if err != nil {
		s.metrics.ValidationFailures.Inc()
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	if err := s.reports.Append(ctx, report); err != nil {
		return Result{}, fmt.Errorf("persist report: %w", asStoreErr(err))
	}

	// Absorption is part of the ingestion contract, not a best-effort side
	// effect: if it fails the whole submission fails, and the caller must
	// retry or flag the report. The pending report row stays behind for the
	// retry to reconcile; it is never observable as a success.
	hotspot, err := s.aggregator.Absorb(ctx, report)
	if err != nil {
		return Result{}, fmt.Errorf("aggregate report %s: %w", report.ID, asStoreErr(err))
	}

	s.metrics.ReportsIngested.Inc()
	s.logger.Info("report ingested",
		"report_id", report.ID,
		"hotspot_id", hotspot.ID,
		"noise_type", report.NoiseType,
		"decibels", report.Decibels,
		"hotspot_report_count", hotspot.ReportCount,
	)

	s.publish(ctx, report, hotspot)

	return Result{Report: report, Hotspot: hotspot}, nil
}

// CheckReadiness reports whether the backing store is reachable.
func (s *Service) CheckReadiness(ctx context.Context) error {
	if s.pinger == nil {
		return nil
	}
	if err := s.pinger.Ping(ctx); err != nil {
		return fmt.Errorf("store unreachable: %w", err)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, report domain.Report, hotspot domain.Hotspot) {
	if s.notifier == nil {
		return
	}

	if err := s.notifier.PublishReportCreated(ctx, report); err != nil {
		s.metrics.NotificationFailures.Inc()
		s.logger.Warn("publish report_created failed", "report_id", report.ID, "error", err)
	} else {
		s.metrics.NotificationsPublished.WithLabelValues("report_created").Inc()
	}

	if err := s.notifier.PublishHotspotUpdated(ctx, hotspot); err != nil {
		s.metrics.NotificationFailures.Inc()
		s.logger.Warn("publish hotspot_updated failed", "hotspot_id", hotspot.ID, "error", err)
	} else {
		s.metrics.NotificationsPublished.WithLabelValues("hotspot_updated").Inc()
	}
}

// asStoreErr maps timeouts onto ErrStoreUnavailable so callers can classify
// retryable failures with errors.Is.
func asStoreErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return err
}
