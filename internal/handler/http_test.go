package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triple-jay-dashboard/internal/domain"
	"github.com/triple-jay-dashboard/internal/metrics"
	"github.com/triple-jay-dashboard/internal/websocket"
)

type stubDashboard struct {
	mu        sync.Mutex
	snap      domain.Snapshot
	expiresAt time.Time
	ready     bool
	refreshes atomic.Int32
}

func (s *stubDashboard) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *stubDashboard) DrinkingGame() (*domain.DrinkingGame, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.DrinkingGame, s.expiresAt, s.snap.DrinkingGame != nil
}

func (s *stubDashboard) OnLeaderboardChanged() { s.refreshes.Add(1) }

func (s *stubDashboard) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *stubDashboard) set(fn func(*stubDashboard)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func newTestServer(t *testing.T, d Dashboard) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	hub := websocket.NewHub(m, logger)
	go hub.Run()
	t.Cleanup(hub.Stop)

	srv := httptest.NewServer(NewHandler(d, hub, reg, []string{"*"}, logger).Router())
	t.Cleanup(srv.Close)
	return srv
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error"`
}

func getJSON[T any](t *testing.T, url string) (int, envelope[T]) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out envelope[T]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestDashboardEndpoints(t *testing.T) {
	d := &stubDashboard{
		ready: true,
		snap: domain.Snapshot{
			Songs:   []domain.PlayedSong{{ID: "s1", Title: "Bad Guy", Artist: "Billie Eilish"}},
			Users:   []domain.LeaderboardUser{{ID: "u1", Username: "amy", Score: 4, Rank: 1}},
			Version: 7,
		},
	}
	srv := newTestServer(t, d)

	status, snap := getJSON[domain.Snapshot](t, srv.URL+"/api/v1/dashboard")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, snap.Success)
	if diff := cmp.Diff(d.snap, snap.Data); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	_, songs := getJSON[[]domain.PlayedSong](t, srv.URL+"/api/v1/dashboard/songs")
	assert.Equal(t, d.snap.Songs, songs.Data)

	_, users := getJSON[[]domain.LeaderboardUser](t, srv.URL+"/api/v1/dashboard/leaderboard")
	assert.Equal(t, d.snap.Users, users.Data)
}

func TestDrinkingGameEndpoint(t *testing.T) {
	d := &stubDashboard{ready: true}
	srv := newTestServer(t, d)

	_, idle := getJSON[DrinkingGameResponse](t, srv.URL+"/api/v1/dashboard/drinking-game")
	assert.True(t, idle.Success)
	assert.Nil(t, idle.Data.Game)
	assert.Nil(t, idle.Data.ExpiresAt)

	expiresAt := time.Date(2026, 1, 26, 12, 0, 30, 0, time.UTC)
	d.set(func(d *stubDashboard) {
		d.snap.DrinkingGame = &domain.DrinkingGame{ID: "g1", Title: "Waterfall"}
		d.expiresAt = expiresAt
	})

	_, showing := getJSON[DrinkingGameResponse](t, srv.URL+"/api/v1/dashboard/drinking-game")
	require.NotNil(t, showing.Data.Game)
	assert.Equal(t, "g1", showing.Data.Game.ID)
	require.NotNil(t, showing.Data.ExpiresAt)
	assert.True(t, expiresAt.Equal(*showing.Data.ExpiresAt))
}

func TestReadyAndRefresh(t *testing.T) {
	d := &stubDashboard{}
	srv := newTestServer(t, d)

	status, ready := getJSON[map[string]string](t, srv.URL+"/ready")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.False(t, ready.Success)

	resp, err := http.Post(srv.URL+"/api/v1/dashboard/refresh", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, int32(0), d.refreshes.Load())

	d.set(func(d *stubDashboard) { d.ready = true })
	status, _ = getJSON[map[string]string](t, srv.URL+"/ready")
	assert.Equal(t, http.StatusOK, status)

	resp, err = http.Post(srv.URL+"/api/v1/dashboard/refresh", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, int32(1), d.refreshes.Load())
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, &stubDashboard{})

	status, health := getJSON[map[string]string](t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", health.Data["status"])

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "dashboard_view_clients")
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, &stubDashboard{})

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/dashboard", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
