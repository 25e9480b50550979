package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dcarver/catcrawl/internal/progress"
)

func TestHealthz(t *testing.T) {
	s := NewServer(":0", nil, zap.NewNop())

	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestProgressSnapshot(t *testing.T) {
	tracker := progress.NewTracker(zap.NewNop(), 0)
	tracker.SetState("processing")
	tracker.SetDiscovered(42)
	tracker.AddProcessed()
	tracker.AddSucceeded()

	s := NewServer(":0", tracker, zap.NewNop())

	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/progress", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var snap progress.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Equal(t, "processing", snap.State)
	require.Equal(t, int64(42), snap.Discovered)
	require.Equal(t, int64(1), snap.Succeeded)
}

func TestMetricsEndpoint(t *testing.T) {
	s := NewServer(":0", nil, zap.NewNop())

	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}
