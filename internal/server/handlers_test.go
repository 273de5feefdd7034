package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/breaker"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/cache"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/fetch"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/hub"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/ratelimit"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/stats"
)

func newTestServer(t *testing.T) (*Server, *hub.Hub, *fetch.Orchestrator) {
	t.Helper()

	limiterConfig := ratelimit.DefaultConfig()
	limiterConfig.Spacing = time.Millisecond

	c := cache.New(cache.DefaultConfig(), nil)
	limiters := ratelimit.NewRegistry(limiterConfig, nil)
	breakers := breaker.NewRegistry(nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	limiters.Start(ctx)

	h := hub.New(hub.DefaultConfig(), nil, nil)
	orchestrator := fetch.New(c, limiters, breakers, h)
	collector := stats.NewCollector()

	return New(nil, h, orchestrator, collector, nil), h, orchestrator
}

func TestHealthEndpoint(t *testing.T) {
	s, h, _ := newTestServer(t)
	h.RegisterChannel("prices", nil)

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body["channels"], "prices")
}

func TestStatsEndpointAggregatesLayers(t *testing.T) {
	s, h, o := newTestServer(t)
	h.RegisterChannel("prices", nil)
	o.RegisterDependency("coingecko", ratelimit.Limits{PerMinute: 30}, breaker.DefaultConfig())

	_, err := o.Fetch(context.Background(), fetch.Request{Dependency: "coingecko", Key: "k", TTL: time.Minute},
		func(ctx context.Context) (interface{}, error) {
			return "v", nil
		})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.handleStats(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Fetch struct {
			Cache    cache.Stats               `json:"cache"`
			Breakers map[string]breaker.Stats  `json:"breakers"`
			Limits   map[string]map[string]int `json:"remainingTokens"`
		} `json:"fetch"`
		Channels map[string]hub.ChannelStats `json:"channels"`
		Usage    stats.Snapshot              `json:"usage"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	assert.Equal(t, int64(1), body.Fetch.Cache.Misses)
	assert.Contains(t, body.Fetch.Breakers, "coingecko")
	assert.Equal(t, 29, body.Fetch.Limits["coingecko"]["minute"])
	assert.Contains(t, body.Channels, "prices")
}

func TestClientsEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handleClients(rec, httptest.NewRequest(http.MethodGet, "/api/clients", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(0), body["count"])
}

func TestRecoverMiddlewareContainsPanics(t *testing.T) {
	s, _, _ := newTestServer(t)

	handler := s.recoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler bug")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
