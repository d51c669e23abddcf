package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/vkozlov/cryptofolio/internal/domain"
	"github.com/vkozlov/cryptofolio/internal/modules/scheduler"
)

type stubCycles struct{}

func (stubCycles) RunCycle(ctx context.Context, sessionID string, dryRun bool) *domain.RunResult {
	return &domain.RunResult{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		StartedAt:  time.Now().UTC(),
		FinishedAt: time.Now().UTC(),
		DryRun:     dryRun,
		TotalValue: 500,
	}
}

func newTestRouter(t *testing.T) (chi.Router, *scheduler.Service) {
	t.Helper()
	conn, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })

	sessions := scheduler.NewSessionRepository(conn, zerolog.Nop())
	require.NoError(t, sessions.InitSchema())
	results := scheduler.NewResultRepository(conn, zerolog.Nop())
	require.NoError(t, results.InitSchema())

	svc := scheduler.NewService(stubCycles{}, sessions, results, scheduler.Config{
		DefaultDryRun:          true,
		DefaultIntervalSeconds: 3600,
		StopWait:               time.Second,
	}, zerolog.Nop())
	t.Cleanup(svc.Shutdown)

	router := chi.NewRouter()
	NewHandler(svc, zerolog.Nop()).RegisterRoutes(router)
	return router, svc
}

func doRequest(t *testing.T, router chi.Router, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	payload := map[string]interface{}{}
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	}
	return rec, payload
}

func TestStartEndpointLifecycle(t *testing.T) {
	router, _ := newTestRouter(t)

	rec, payload := doRequest(t, router, http.MethodPost, "/trader/main/start", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "started", payload["status"])

	rec, payload = doRequest(t, router, http.MethodPost, "/trader/main/start", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "already_running", payload["status"])

	rec, payload = doRequest(t, router, http.MethodPost, "/trader/main/stop", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stopped", payload["status"])
}

func TestStopUnknownSessionReturns404(t *testing.T) {
	router, _ := newTestRouter(t)

	rec, _ := doRequest(t, router, http.MethodPost, "/trader/ghost/stop", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	doRequest(t, router, http.MethodPost, "/trader/main/start", "")
	defer doRequest(t, router, http.MethodPost, "/trader/main/stop", "")

	rec, payload := doRequest(t, router, http.MethodGet, "/trader/main/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, payload["is_running"])
	assert.Equal(t, true, payload["dry_run"])
}

func TestToggleDryRunEndpoint(t *testing.T) {
	router, svc := newTestRouter(t)

	_, err := svc.RunOnce(context.Background(), "main")
	require.NoError(t, err)

	rec, payload := doRequest(t, router, http.MethodPost, "/trader/main/toggle-dry-run", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, payload["dry_run"])
}

func TestToggleDryRunEndpointExplicitModes(t *testing.T) {
	router, svc := newTestRouter(t)

	_, err := svc.RunOnce(context.Background(), "main")
	require.NoError(t, err)

	rec, payload := doRequest(t, router, http.MethodPost, "/trader/main/toggle-dry-run", `{"mode":"real"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, payload["dry_run"])

	rec, payload = doRequest(t, router, http.MethodPost, "/trader/main/toggle-dry-run", `{"mode":"test"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, payload["dry_run"])

	rec, _ = doRequest(t, router, http.MethodPost, "/trader/main/toggle-dry-run", `{"mode":"paper"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetIntervalEndpointSumsUnits(t *testing.T) {
	router, svc := newTestRouter(t)

	_, err := svc.RunOnce(context.Background(), "main")
	require.NoError(t, err)

	rec, payload := doRequest(t, router, http.MethodPost, "/trader/main/interval",
		`{"days":1,"hours":2,"minutes":3,"seconds":4}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(86400+7200+180+4), payload["interval_seconds"])
}

func TestSetIntervalEndpointValidation(t *testing.T) {
	router, svc := newTestRouter(t)

	_, err := svc.RunOnce(context.Background(), "main")
	require.NoError(t, err)

	rec, _ := doRequest(t, router, http.MethodPost, "/trader/main/interval", `{"seconds":30}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, payload := doRequest(t, router, http.MethodPost, "/trader/main/interval", `{"seconds":900}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(900), payload["interval_seconds"])
}

func TestRebalanceEndpointRunsOneCycle(t *testing.T) {
	router, _ := newTestRouter(t)

	rec, payload := doRequest(t, router, http.MethodPost, "/trader/main/rebalance", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "main", payload["session_id"])
	assert.Equal(t, true, payload["dry_run"])

	rec, _ = doRequest(t, router, http.MethodGet, "/trader/main/history", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var history []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Len(t, history, 1)
}
