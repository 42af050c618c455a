// Package metrics implements the metrics/diagnostics façade (C12): a
// read-only projection of the timing monitor plus queue/processor/broker
// counters, and a Prometheus registry mirroring the same numbers.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arx-os/sensor-ingest/internal/broker"
	"github.com/arx-os/sensor-ingest/internal/processor"
	"github.com/arx-os/sensor-ingest/internal/queue"
	"github.com/arx-os/sensor-ingest/internal/timing"
)

// Snapshot is the read returned by Diagnostics.
type Snapshot struct {
	UptimeSeconds   float64
	TotalReadings   int64
	TotalSensors    int
	TotalOutOfOrder int64
	Health          timing.Health
	Sensors         []timing.SensorStats
	Queue           queue.Stats
	Processor       ProcessorStats
	BrokerHandled   uint64
	BrokerDropped   uint64
}

// ProcessorStats mirrors the async processor's error counter alongside its
// own queue stats.
type ProcessorStats struct {
	Errors uint64
	Queue  queue.Stats
}

// Facade composes the components whose state the diagnostics snapshot and
// the Prometheus registry both read.
type Facade struct {
	startedAt time.Time
	timing    *timing.Monitor
	intake    *queue.Queue
	proc      *processor.Processor
	bus       *broker.Broker

	reg              *prometheus.Registry
	readingsTotal    prometheus.Counter
	outOfOrderTotal  prometheus.Counter
	queueEnqueued    prometheus.Counter
	queueDropped     prometheus.Counter
	queueRateLimited prometheus.Counter
	queueUtilization prometheus.Gauge
	ingestionLag     prometheus.Histogram

	deltaMu         sync.Mutex
	lastEnqueued    uint64
	lastDropped     uint64
	lastRateLimited uint64
}

func New(timingMonitor *timing.Monitor, intake *queue.Queue, proc *processor.Processor, bus *broker.Broker) *Facade {
	f := &Facade{
		startedAt: time.Now(),
		timing:    timingMonitor,
		intake:    intake,
		proc:      proc,
		bus:       bus,
		reg:       prometheus.NewRegistry(),
	}

	f.readingsTotal = promauto.With(f.reg).NewCounter(prometheus.CounterOpts{
		Name: "ingest_readings_total",
		Help: "Total readings ingested.",
	})
	f.outOfOrderTotal = promauto.With(f.reg).NewCounter(prometheus.CounterOpts{
		Name: "ingest_out_of_order_total",
		Help: "Total out-of-order sequence detections.",
	})
	f.queueEnqueued = promauto.With(f.reg).NewCounter(prometheus.CounterOpts{
		Name: "ingest_queue_enqueued_total",
		Help: "Total items enqueued onto the intake queue.",
	})
	f.queueDropped = promauto.With(f.reg).NewCounter(prometheus.CounterOpts{
		Name: "ingest_queue_dropped_total",
		Help: "Total items dropped by the intake queue.",
	})
	f.queueRateLimited = promauto.With(f.reg).NewCounter(prometheus.CounterOpts{
		Name: "ingest_queue_rate_limited_total",
		Help: "Total items refused by the intake queue's rate limiter.",
	})
	f.queueUtilization = promauto.With(f.reg).NewGauge(prometheus.GaugeOpts{
		Name: "ingest_queue_utilization_pct",
		Help: "Intake queue utilization percentage.",
	})
	f.ingestionLag = promauto.With(f.reg).NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_lag_ms",
		Help:    "Ingestion lag in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	return f
}

// Registry exposes the Prometheus registry for promhttp.HandlerFor.
func (f *Facade) Registry() *prometheus.Registry {
	return f.reg
}

// ObserveLag feeds one ingestion lag sample into the histogram; called from
// the hot path alongside the timing monitor's own recording.
func (f *Facade) ObserveLag(lagMS float64) {
	f.ingestionLag.Observe(lagMS)
}

// Diagnostics returns a snapshot of current state, optionally narrowed to a
// single sensor. It is not free of side effects: each call also mirrors the
// intake queue's counters and utilization onto the Prometheus registry.
func (f *Facade) Diagnostics(sensorID *int64) Snapshot {
	var sensors []timing.SensorStats
	var health timing.Health

	if sensorID != nil {
		if s, ok := f.timing.SensorSnapshot(*sensorID); ok {
			sensors = []timing.SensorStats{s}
		}
		_, health = f.timing.Snapshot()
	} else {
		sensors, health = f.timing.Snapshot()
	}

	var totalReadings, totalOOO int64
	for _, s := range sensors {
		totalReadings += s.TotalReadings
		totalOOO += s.OutOfOrderCount
	}

	snap := Snapshot{
		UptimeSeconds:   time.Since(f.startedAt).Seconds(),
		TotalReadings:   totalReadings,
		TotalSensors:    len(sensors),
		TotalOutOfOrder: totalOOO,
		Health:          health,
		Sensors:         sensors,
		Queue:           f.intake.Stats(),
	}
	if f.proc != nil {
		snap.Processor = ProcessorStats{Errors: f.proc.Errors(), Queue: f.proc.QueueStats()}
	}
	if f.bus != nil {
		snap.BrokerHandled = f.bus.Handled()
		snap.BrokerDropped = f.bus.Dropped()
	}

	f.recordQueueStats(snap.Queue)
	return snap
}

// RecordReading feeds the readings-total and out-of-order-total counters;
// called once per hot-path reading alongside the timing monitor update.
func (f *Facade) RecordReading(outOfOrder bool) {
	f.readingsTotal.Inc()
	if outOfOrder {
		f.outOfOrderTotal.Inc()
	}
}

// recordQueueStats mirrors the queue's cumulative counters onto the
// Prometheus registry, which only accepts monotonic increments, by tracking
// the delta since the previous snapshot.
func (f *Facade) recordQueueStats(s queue.Stats) {
	f.deltaMu.Lock()
	defer f.deltaMu.Unlock()

	f.queueUtilization.Set(s.UtilizationPct)

	if s.Enqueued > f.lastEnqueued {
		f.queueEnqueued.Add(float64(s.Enqueued - f.lastEnqueued))
		f.lastEnqueued = s.Enqueued
	}
	if s.Dropped > f.lastDropped {
		f.queueDropped.Add(float64(s.Dropped - f.lastDropped))
		f.lastDropped = s.Dropped
	}
	if s.RateLimited > f.lastRateLimited {
		f.queueRateLimited.Add(float64(s.RateLimited - f.lastRateLimited))
		f.lastRateLimited = s.RateLimited
	}
}
