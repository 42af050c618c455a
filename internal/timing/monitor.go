// Package timing implements the ingestion timing monitor (C5): a
// process-wide registry of per-sensor lag/delta/sequence statistics and a
// global health verdict.
package timing

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

const boundedDequeCap = 100

// Health is the aggregate verdict exposed by Snapshot.
type Health string

const (
	HealthPass Health = "PASS"
	HealthWarn Health = "WARN"
	HealthFail Health = "FAIL"
)

const (
	warnLagThresholdMS      = 200.0
	failOutOfOrderRateLimit = 0.01
)

// Config tunes the expected inter-sample interval and tolerance used to
// compute within_tolerance on each reading.
type Config struct {
	ExpectedIntervalMS int64
	ToleranceMS        int64
}

func DefaultConfig() Config {
	return Config{ExpectedIntervalMS: 1000, ToleranceMS: 200}
}

// SensorStats is an immutable snapshot of one sensor's timing statistics.
type SensorStats struct {
	SensorID        int64
	TotalReadings   int64
	OutOfOrderCount int64
	LastLagMS       *float64
	MinLagMS        float64
	MeanLagMS       float64
	MaxLagMS        float64
	StdDevLagMS     float64
	MinDeltaMS      float64
	MeanDeltaMS     float64
	MaxDeltaMS      float64
	StdDevDeltaMS   float64
}

// RecordResult reports what happened on one record_reading call.
type RecordResult struct {
	LagMS           *float64
	DeltaMS         *float64
	WithinTolerance *bool
	OutOfOrder      bool
}

type sensorState struct {
	mu              sync.Mutex
	lastSensorTS    *time.Time
	lastIngestedTS  time.Time
	lastSequence    *uint64
	totalReadings   int64
	outOfOrderCount int64
	lags            []float64
	deltas          []float64
}

// Monitor is the process-wide singleton timing registry. Construct one per
// process via New and pass it down explicitly.
type Monitor struct {
	cfg     Config
	log     *zap.SugaredLogger
	mu      sync.Mutex
	sensors map[int64]*sensorState
}

func New(cfg Config, log *zap.SugaredLogger) *Monitor {
	return &Monitor{cfg: cfg, log: log, sensors: make(map[int64]*sensorState)}
}

func (m *Monitor) stateFor(sensorID int64) *sensorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sensors[sensorID]
	if !ok {
		s = &sensorState{}
		m.sensors[sensorID] = s
	}
	return s
}

// RecordReading atomically updates the sensor's timing state and returns
// what happened on this call.
func (m *Monitor) RecordReading(sensorID int64, ingestedTS time.Time, sensorTS *time.Time, sequence *uint64) RecordResult {
	s := m.stateFor(sensorID)
	s.mu.Lock()
	defer s.mu.Unlock()

	var result RecordResult

	if sensorTS != nil {
		lagMS := ingestedTS.Sub(*sensorTS).Seconds() * 1000
		s.lags = pushBounded(s.lags, lagMS, boundedDequeCap)
		result.LagMS = &lagMS

		if lagMS > warnLagThresholdMS && m.log != nil {
			m.log.Warnw("ingestion lag exceeded threshold", "sensor_id", sensorID, "lag_ms", lagMS)
		}

		if s.lastSensorTS != nil {
			deltaMS := sensorTS.Sub(*s.lastSensorTS).Seconds() * 1000
			s.deltas = pushBounded(s.deltas, deltaMS, boundedDequeCap)
			result.DeltaMS = &deltaMS

			within := math.Abs(deltaMS-float64(m.cfg.ExpectedIntervalMS)) <= float64(m.cfg.ToleranceMS)
			result.WithinTolerance = &within
		}
	}

	if sequence != nil && s.lastSequence != nil && *sequence <= *s.lastSequence {
		s.outOfOrderCount++
		result.OutOfOrder = true
	}

	if sensorTS != nil {
		s.lastSensorTS = sensorTS
	}
	if sequence != nil {
		s.lastSequence = sequence
	}
	s.lastIngestedTS = ingestedTS
	s.totalReadings++

	return result
}

func pushBounded(deque []float64, v float64, cap int) []float64 {
	deque = append(deque, v)
	if len(deque) > cap {
		deque = deque[len(deque)-cap:]
	}
	return deque
}

// SensorSnapshot returns a deep-copied stats snapshot for one sensor, or
// ok=false if the sensor has never been recorded.
func (m *Monitor) SensorSnapshot(sensorID int64) (SensorStats, bool) {
	m.mu.Lock()
	s, ok := m.sensors[sensorID]
	m.mu.Unlock()
	if !ok {
		return SensorStats{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return buildStats(sensorID, s), true
}

// Snapshot returns a deep-copied stats snapshot for every known sensor plus
// the global health verdict.
func (m *Monitor) Snapshot() ([]SensorStats, Health) {
	m.mu.Lock()
	ids := make([]int64, 0, len(m.sensors))
	states := make([]*sensorState, 0, len(m.sensors))
	for id, s := range m.sensors {
		ids = append(ids, id)
		states = append(states, s)
	}
	m.mu.Unlock()

	var (
		allStats      []SensorStats
		totalReadings int64
		totalOOO      int64
		maxLag        float64
	)

	for i, s := range states {
		s.mu.Lock()
		stats := buildStats(ids[i], s)
		totalReadings += s.totalReadings
		totalOOO += s.outOfOrderCount
		if stats.MaxLagMS > maxLag {
			maxLag = stats.MaxLagMS
		}
		s.mu.Unlock()
		allStats = append(allStats, stats)
	}

	health := HealthPass
	if maxLag > warnLagThresholdMS {
		health = HealthWarn
	}
	if totalReadings > 0 && float64(totalOOO)/float64(totalReadings) > failOutOfOrderRateLimit {
		health = HealthFail
	}

	return allStats, health
}

func buildStats(sensorID int64, s *sensorState) SensorStats {
	var lastLag *float64
	if len(s.lags) > 0 {
		v := s.lags[len(s.lags)-1]
		lastLag = &v
	}

	minL, meanL, maxL, stdL := summarize(s.lags)
	minD, meanD, maxD, stdD := summarize(s.deltas)

	return SensorStats{
		SensorID:        sensorID,
		TotalReadings:   s.totalReadings,
		OutOfOrderCount: s.outOfOrderCount,
		LastLagMS:       lastLag,
		MinLagMS:        minL,
		MeanLagMS:       meanL,
		MaxLagMS:        maxL,
		StdDevLagMS:     stdL,
		MinDeltaMS:      minD,
		MeanDeltaMS:     meanD,
		MaxDeltaMS:      maxD,
		StdDevDeltaMS:   stdD,
	}
}

func summarize(xs []float64) (min, mean, max, stddev float64) {
	if len(xs) == 0 {
		return 0, 0, 0, 0
	}
	min, max = xs[0], xs[0]
	sum := 0.0
	for _, x := range xs {
		if x < min {
			min = x
		}
		if x > max {
			max = x
		}
		sum += x
	}
	mean = sum / float64(len(xs))

	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	stddev = math.Sqrt(sumSq / float64(len(xs)))
	return min, mean, max, stddev
}
