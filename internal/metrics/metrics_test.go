package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arx-os/sensor-ingest/internal/broker"
	"github.com/arx-os/sensor-ingest/internal/metrics"
	"github.com/arx-os/sensor-ingest/internal/processor"
	"github.com/arx-os/sensor-ingest/internal/queue"
	"github.com/arx-os/sensor-ingest/internal/timing"
)

func newFacade(t *testing.T) (*metrics.Facade, *queue.Queue, *timing.Monitor, *broker.Broker) {
	t.Helper()
	tm := timing.New(timing.DefaultConfig(), nil)
	q := queue.New(queue.DefaultConfig())
	bus := broker.New(broker.DefaultConfig())
	return metrics.New(tm, q, nil, bus), q, tm, bus
}

// counterValue gathers the named single-series counter metric from the
// facade's registry.
func counterValue(t *testing.T, f *metrics.Facade, name string) float64 {
	t.Helper()
	gathered, err := f.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range gathered {
		if mf.GetName() == name {
			require.Len(t, mf.Metric, 1)
			return mf.Metric[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not found in registry", name)
	return 0
}

func TestFacade_DiagnosticsAggregatesAcrossSensors(t *testing.T) {
	f, _, tm, _ := newFacade(t)

	now := time.Now()
	tm.RecordReading(1, now, &now, nil)
	tm.RecordReading(2, now, &now, nil)

	snap := f.Diagnostics(nil)
	assert.Equal(t, 2, snap.TotalSensors)
	assert.Equal(t, int64(2), snap.TotalReadings)
	assert.Equal(t, timing.HealthPass, snap.Health)
}

func TestFacade_DiagnosticsFiltersBySensorID(t *testing.T) {
	f, _, tm, _ := newFacade(t)

	now := time.Now()
	tm.RecordReading(1, now, &now, nil)
	tm.RecordReading(2, now, &now, nil)

	sensorID := int64(1)
	snap := f.Diagnostics(&sensorID)
	require.Len(t, snap.Sensors, 1)
	assert.Equal(t, int64(1), snap.Sensors[0].SensorID)
}

func TestFacade_DiagnosticsUnknownSensorReturnsEmpty(t *testing.T) {
	f, _, _, _ := newFacade(t)

	sensorID := int64(999)
	snap := f.Diagnostics(&sensorID)
	assert.Empty(t, snap.Sensors)
	assert.Equal(t, 0, snap.TotalSensors)
}

func TestFacade_DiagnosticsIncludesQueueAndBrokerCounters(t *testing.T) {
	f, q, _, bus := newFacade(t)

	q.Put("item")
	bus.Publish("event")

	snap := f.Diagnostics(nil)
	assert.Equal(t, uint64(1), snap.Queue.Enqueued)
	assert.Equal(t, uint64(0), snap.BrokerDropped)
}

func TestFacade_DiagnosticsIncludesProcessorErrors(t *testing.T) {
	tm := timing.New(timing.DefaultConfig(), nil)
	q := queue.New(queue.DefaultConfig())
	bus := broker.New(broker.DefaultConfig())
	cfg := processor.DefaultConfig()
	cfg.Enabled = false
	proc := processor.New(cfg, func(_ context.Context, _ any) error { return nil }, nil)
	f := metrics.New(tm, q, proc, bus)

	snap := f.Diagnostics(nil)
	assert.Equal(t, uint64(0), snap.Processor.Errors)
}

func TestFacade_RecordQueueStatsOnlyAddsDeltas(t *testing.T) {
	f, q, _, _ := newFacade(t)

	q.Put("a")
	f.Diagnostics(nil)
	assert.Equal(t, 1.0, counterValue(t, f, "ingest_queue_enqueued_total"))

	q.Put("b")
	f.Diagnostics(nil)
	assert.Equal(t, 2.0, counterValue(t, f, "ingest_queue_enqueued_total"))
}

func TestFacade_RecordReadingIncrementsPrometheusCounters(t *testing.T) {
	f, _, _, _ := newFacade(t)

	f.RecordReading(false)
	f.RecordReading(true)

	assert.Equal(t, 2.0, counterValue(t, f, "ingest_readings_total"))
	assert.Equal(t, 1.0, counterValue(t, f, "ingest_out_of_order_total"))
}

func TestFacade_ObserveLagRecordsHistogram(t *testing.T) {
	f, _, _, _ := newFacade(t)
	f.ObserveLag(42.0)

	gathered, err := f.Registry().Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range gathered {
		if mf.GetName() == "ingest_lag_ms" {
			found = true
			require.Len(t, mf.Metric, 1)
			assert.Equal(t, uint64(1), mf.Metric[0].GetHistogram().GetSampleCount())
		}
	}
	assert.True(t, found, "expected ingest_lag_ms histogram to be registered")
}
