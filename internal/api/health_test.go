package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curvestream/indexer/internal/processor"
)

type pinger struct{ err error }

func (p pinger) Ping(ctx context.Context) error { return p.err }

type runs struct {
	last *processor.Summary
}

func (r runs) LastRun() (processor.Summary, bool) {
	if r.last == nil {
		return processor.Summary{}, false
	}
	return *r.last, true
}

func newServer(db error, last *processor.Summary) *HealthServer {
	h := NewHealthServer(pinger{db}, runs{last}, time.Hour, zerolog.Nop())
	h.now = func() time.Time { return time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC) }
	return h
}

func getHealth(t *testing.T, h *HealthServer) (int, HealthStatus) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body struct {
		Data HealthStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body.Data
}

func TestHealth(t *testing.T) {
	at := time.Date(2025, 1, 1, 11, 30, 0, 0, time.UTC)

	tests := []struct {
		name   string
		db     error
		last   *processor.Summary
		code   int
		status string
	}{
		{"healthy", nil, &processor.Summary{RunID: "r", Status: "ok", FinishedAt: at}, http.StatusOK, "healthy"},
		{"no run yet", nil, nil, http.StatusOK, "healthy"},
		{"partial run", nil, &processor.Summary{Status: "partial", FinishedAt: at}, http.StatusOK, "degraded"},
		{"chain skipped", nil, &processor.Summary{Status: "partial", SkippedChains: []int64{1}, FinishedAt: at}, http.StatusOK, "degraded"},
		{"stale run", nil, &processor.Summary{Status: "ok", FinishedAt: at.Add(-3 * time.Hour)}, http.StatusOK, "degraded"},
		{"database down", errors.New("refused"), nil, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, st := getHealth(t, newServer(tt.db, tt.last))
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.status, st.Status)
			if tt.last != nil {
				require.NotNil(t, st.LastRun)
				assert.Equal(t, tt.last.SkippedChains, st.LastRun.SkippedChains)
			}
		})
	}
}

func TestReadyAndLive(t *testing.T) {
	rec := httptest.NewRecorder()
	newServer(errors.New("down"), nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	newServer(nil, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	newServer(nil, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, "alive", rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	newServer(nil, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
