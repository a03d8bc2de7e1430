// Package api serves the operational endpoints of a scheduled indexer:
// health, readiness, liveness and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/curvestream/indexer/internal/processor"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type RunReporter interface {
	LastRun() (processor.Summary, bool)
}

// HealthServer reports on the database and the last run. Chains are dialed
// per run, so their state comes from the run summary.
type HealthServer struct {
	db   Pinger
	runs RunReporter
	// a last run that finished longer ago than staleAfter is degraded
	staleAfter time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

type HealthStatus struct {
	Status    string             `json:"status"`
	Timestamp time.Time          `json:"timestamp"`
	Database  DatabaseStatus     `json:"database"`
	LastRun   *processor.Summary `json:"last_run,omitempty"`
}

type DatabaseStatus struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

func NewHealthServer(db Pinger, runs RunReporter, staleAfter time.Duration, logger zerolog.Logger) *HealthServer {
	return &HealthServer{
		db:         db,
		runs:       runs,
		staleAfter: staleAfter,
		now:        time.Now,
		logger:     logger.With().Str("component", "health").Logger(),
	}
}

func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/ready", h.handleReady)
	mux.HandleFunc("/live", h.handleLive)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Serve blocks until ctx is done.
func (h *HealthServer) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      h.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	h.logger.Info().Str("addr", addr).Msg("Starting health server")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.getHealthStatus(ctx)

	httpStatus := http.StatusOK
	if status.Status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}
	writeEnvelope(w, httpStatus, envelope{Data: status})
}

func (h *HealthServer) getHealthStatus(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Timestamp: h.now(),
		Status:    "healthy",
	}

	status.Database = h.checkDatabase(ctx)
	if !status.Database.Connected {
		status.Status = "unhealthy"
	}

	if last, ok := h.runs.LastRun(); ok {
		status.LastRun = &last
		if last.Status != "ok" && status.Status == "healthy" {
			status.Status = "degraded"
		}
		if h.staleAfter > 0 && h.now().Sub(last.FinishedAt) > h.staleAfter && status.Status == "healthy" {
			status.Status = "degraded"
		}
	}

	return status
}

func (h *HealthServer) checkDatabase(ctx context.Context) DatabaseStatus {
	status := DatabaseStatus{Connected: true}
	if err := h.db.Ping(ctx); err != nil {
		status.Connected = false
		status.Error = err.Error()
	}
	return status
}

func (h *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if h.db.Ping(ctx) != nil {
		msg := "not ready"
		writeEnvelope(w, http.StatusServiceUnavailable, envelope{Error: &msg})
		return
	}
	writeEnvelope(w, http.StatusOK, envelope{Data: "ready"})
}

func (h *HealthServer) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}

type envelope struct {
	Data  interface{} `json:"data,omitempty"`
	Error *string     `json:"error,omitempty"`
}

func writeEnvelope(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
