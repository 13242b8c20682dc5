package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farm-exporter/internal/registry"
	"farm-exporter/internal/source"
)

func TestMetricsEndpoint(t *testing.T) {
	reg := registry.New()
	snap := source.NewSnapshot("chia_node")
	snap.Set("chia_stats_og_count", "Total number of og plots", 12)
	reg.Publish("chia_node", snap)

	pr := prometheus.NewRegistry()
	pr.MustRegister(reg)

	srv := httptest.NewServer(New(Options{}, pr, nil, zerolog.Nop()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "chia_stats_og_count 12")

	reg.Clear("chia_node")
	resp2, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp2.Body.Close()
	body, _ = io.ReadAll(resp2.Body)
	assert.NotContains(t, string(body), "chia_stats_og_count")
}

func TestHealthEndpoint(t *testing.T) {
	status := func() []SourceStatus {
		return []SourceStatus{
			{Source: "chia_node", State: "sleeping", Published: true},
			{Source: "openchia", State: "sleeping", ErrorSeconds: 600},
		}
	}
	rec := httptest.NewRecorder()
	New(Options{}, prometheus.NewRegistry(), status, zerolog.Nop()).
		Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Status  string         `json:"status"`
		Sources []SourceStatus `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "degraded", out.Status)
	require.Len(t, out.Sources, 2)
	assert.Equal(t, 600.0, out.Sources[1].ErrorSeconds)
}

func TestRecoverMiddleware(t *testing.T) {
	panicker := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("test panic") })
	rec := httptest.NewRecorder()

	Recover(zerolog.Nop())(panicker).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLoggerMiddlewareRecordsStatus(t *testing.T) {
	var buf strings.Builder
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"path":"/x"`)
}
