// Package http exposes the ingestion and query API plus health, readiness,
// and metrics endpoints.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opennoise/noise-hotspot-service/internal/domain"
	"github.com/opennoise/noise-hotspot-service/internal/geo"
	"github.com/opennoise/noise-hotspot-service/internal/ingest"
	"github.com/opennoise/noise-hotspot-service/internal/query"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// Server exposes the REST API and operational HTTP endpoints.
type Server struct {
	httpServer *http.Server
	ingest     *ingest.Service
	queries    *query.Facade
	logger     *slog.Logger
}

// NewServer creates the HTTP server with all routes registered.
func NewServer(addr string, svc *ingest.Service, queries *query.Facade, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		ingest:  svc,
		queries: queries,
		logger:  logger,
	}

	mux.HandleFunc("POST /reports", s.handleSubmitReport)
	mux.HandleFunc("GET /reports/near", s.handleReportsNear)
	mux.HandleFunc("GET /hotspots/near", s.handleHotspotsNear)
	mux.HandleFunc("GET /hotspots/top", s.handleTopHotspots)
	mux.HandleFunc("GET /hotspots/{id}", s.handleHotspotByID)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(svc))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleSubmitReport(w http.ResponseWriter, r *http.Request) {
	var sub domain.ReportSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	result, err := s.ingest.Submit(r.Context(), sub)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleReportsNear(w http.ResponseWriter, r *http.Request) {
	point, radiusKm, err := parsePointRadius(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	filters, err := parseReportFilters(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	reports, err := s.queries.ReportsNear(r.Context(), point, radiusKm, filters)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if reports == nil {
		reports = []domain.Report{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

func (s *Server) handleHotspotsNear(w http.ResponseWriter, r *http.Request) {
	point, radiusKm, err := parsePointRadius(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	hotspots, err := s.queries.HotspotsNear(r.Context(), point, radiusKm)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if hotspots == nil {
		hotspots = []domain.Hotspot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"hotspots": hotspots})
}

func (s *Server) handleTopHotspots(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, &domain.ValidationError{Field: "limit", Reason: "must be a positive integer"})
			return
		}
		limit = n
	}

	hotspots, err := s.queries.TopHotspots(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if hotspots == nil {
		hotspots = []domain.Hotspot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"hotspots": hotspots})
}

func (s *Server) handleHotspotByID(w http.ResponseWriter, r *http.Request) {
	hotspot, err := s.queries.HotspotByID(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hotspot)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// writeError maps domain errors onto HTTP statuses: validation → 400,
// not-found → 404, conflict/unavailable/timeout → 503, anything else → 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrStoreUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusServiceUnavailable, errorBody("temporarily unavailable, retry"))
	default:
		s.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

func parsePointRadius(r *http.Request) (geo.Coordinate, float64, error) {
	q := r.URL.Query()

	lat, err := parseFloatParam(q.Get("lat"), "lat")
	if err != nil {
		return geo.Coordinate{}, 0, err
	}
	lon, err := parseFloatParam(q.Get("lon"), "lon")
	if err != nil {
		return geo.Coordinate{}, 0, err
	}
	radius, err := parseFloatParam(q.Get("radius_km"), "radius_km")
	if err != nil {
		return geo.Coordinate{}, 0, err
	}

	if lat < -90 || lat > 90 {
		return geo.Coordinate{}, 0, &domain.ValidationError{Field: "lat", Reason: "out of range [-90, 90]"}
	}
	if lon < -180 || lon > 180 {
		return geo.Coordinate{}, 0, &domain.ValidationError{Field: "lon", Reason: "out of range [-180, 180]"}
	}
	return geo.Coordinate{Lat: lat, Lon: lon}, radius, nil
}

func parseReportFilters(r *http.Request) (query.ReportFilters, error) {
	q := r.URL.Query()
	var filters query.ReportFilters

	if v := q.Get("noise_type"); v != "" {
		nt := domain.NoiseType(v)
		if !nt.Valid() {
			return query.ReportFilters{}, &domain.ValidationError{Field: "noise_type", Reason: "unknown noise type"}
		}
		filters.NoiseType = &nt
	}
	if v := q.Get("min_db"); v != "" {
		f, err := parseFloatParam(v, "min_db")
		if err != nil {
			return query.ReportFilters{}, err
		}
		filters.MinDecibels = &f
	}
	if v := q.Get("max_db"); v != "" {
		f, err := parseFloatParam(v, "max_db")
		if err != nil {
			return query.ReportFilters{}, err
		}
		filters.MaxDecibels = &f
	}
	return filters, nil
}

func parseFloatParam(raw, field string) (float64, error) {
	if raw == "" {
		return 0, &domain.ValidationError{Field: field, Reason: "required"}
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &domain.ValidationError{Field: field, Reason: "must be a number"}
	}
	return f, nil
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response write
}
