package httpapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arx-os/sensor-ingest/internal/broker"
	"github.com/arx-os/sensor-ingest/internal/httpapi"
	"github.com/arx-os/sensor-ingest/internal/metrics"
	"github.com/arx-os/sensor-ingest/internal/queue"
	"github.com/arx-os/sensor-ingest/internal/timing"
)

func newTestServer(ping func() error) *httpapi.Server {
	tm := timing.New(timing.DefaultConfig(), nil)
	q := queue.New(queue.DefaultConfig())
	bus := broker.New(broker.DefaultConfig())
	m := metrics.New(tm, q, nil, bus)
	return httpapi.New(m, ping, nil)
}

func TestHealthzReturnsOK(t *testing.T) {
	s := newTestServer(nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturnsOKWhenPingSucceeds(t *testing.T) {
	s := newTestServer(func() error { return nil })
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturnsUnavailableWhenPingFails(t *testing.T) {
	s := newTestServer(func() error { return assertErr{} })
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type assertErr struct{}

func (assertErr) Error() string { return "db unreachable" }

func TestDiagnosticsReturnsSnapshot(t *testing.T) {
	s := newTestServer(nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics/diagnostics", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var snap metrics.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 0, snap.TotalSensors)
}

func TestDiagnosticsRejectsInvalidSensorID(t *testing.T) {
	s := newTestServer(nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics/diagnostics?sensor_id=not-a-number", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpointExposesPrometheusFormat(t *testing.T) {
	s := newTestServer(nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ingest_readings_total")
}
