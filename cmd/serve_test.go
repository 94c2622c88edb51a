package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/riskmap-cli/internal/grid"
	"github.com/sells-group/riskmap-cli/internal/monitoring"
)

func testLayers(t *testing.T) []*grid.Grid {
	t.Helper()
	x := []float64{0.5, 1.5}
	y := []float64{1.5, 0.5}
	lst, err := grid.FromRows("LST", grid.DefaultCRS, x, y, [][]float64{{26, 21}, {31, math.NaN()}})
	require.NoError(t, err)
	lst.Units = "°C"
	riskGrid, err := grid.FromRows(compositeName, grid.DefaultCRS, x, y, [][]float64{{1.5, 3}, {5, math.NaN()}})
	require.NoError(t, err)
	return []*grid.Grid{lst, riskGrid}
}

func newTestRouter(t *testing.T) (http.Handler, *monitoring.Metrics) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := monitoring.NewMetricsWithRegistry(reg)
	return buildRouter(testLayers(t), m, reg, []string{"https://maps.example.org"}), m
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouter_Health(t *testing.T) {
	h, _ := newTestRouter(t)
	rr := get(t, h, "/health")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestRouter_Layers(t *testing.T) {
	h, _ := newTestRouter(t)
	rr := get(t, h, "/layers")
	require.Equal(t, http.StatusOK, rr.Code)

	var meta []grid.Metadata
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &meta))
	require.Len(t, meta, 2)
	assert.Equal(t, "LST", meta[0].Name)
	assert.Equal(t, 3, meta[0].ValidCount)
	assert.Equal(t, compositeName, meta[1].Name)
}

func TestRouter_LookupHit(t *testing.T) {
	h, m := newTestRouter(t)
	rr := get(t, h, "/lookup?x=0.6&y=1.4")
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Values []lookupValue `json:"values"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Values, 2)
	assert.Equal(t, "LST", body.Values[0].Layer)
	require.NotNil(t, body.Values[0].Value)
	assert.Equal(t, 26.0, *body.Values[0].Value)
	assert.Equal(t, 1.5, *body.Values[1].Value)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LookupsTotal.WithLabelValues("hit")))
}

func TestRouter_LookupNoData(t *testing.T) {
	h, _ := newTestRouter(t)
	rr := get(t, h, "/lookup?x=1.5&y=0.5")
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Values []lookupValue `json:"values"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Nil(t, body.Values[0].Value)
}

func TestRouter_LookupOutOfBounds(t *testing.T) {
	h, m := newTestRouter(t)
	rr := get(t, h, "/lookup?x=10&y=10")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"message":"out of bounds"}`, rr.Body.String())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LookupsTotal.WithLabelValues("out_of_bounds")))
}

func TestRouter_LookupBadRequest(t *testing.T) {
	h, _ := newTestRouter(t)
	for _, target := range []string{"/lookup", "/lookup?x=a&y=1", "/lookup?x=1"} {
		rr := get(t, h, target)
		assert.Equal(t, http.StatusBadRequest, rr.Code, target)
	}
}

func TestRouter_Metrics(t *testing.T) {
	h, _ := newTestRouter(t)
	get(t, h, "/lookup?x=10&y=10")

	rr := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `riskmap_lookups_total{outcome="out_of_bounds"} 1`)
}

func TestRouter_CORS(t *testing.T) {
	h, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/lookup", nil)
	req.Header.Set("Origin", "https://maps.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "https://maps.example.org", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestResolvePort(t *testing.T) {
	assert.Equal(t, 9090, resolvePort(9090, 8080))
	assert.Equal(t, 8080, resolvePort(0, 8080))
	assert.Equal(t, 0, resolvePort(0, 0))
}

func TestStartServer_GracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h, _ := newTestRouter(t)

	// Find a free port.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	errCh := make(chan error, 1)
	go func() {
		errCh <- startServer(ctx, h, port, time.Second)
	}()

	var ready bool
	for i := 0; i < 50; i++ {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
		if err == nil {
			_ = resp.Body.Close()
			ready = resp.StatusCode == http.StatusOK
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, ready, "server did not become ready in time")

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}
