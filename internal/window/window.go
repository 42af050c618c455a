// Package window implements the per-sensor sliding-window buffer (C3): a
// deque of recent (timestamp, value) pairs trimmed to a maximum horizon,
// exposing multi-window aggregate statistics on every append.
package window

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Point is one sample in a sensor's window.
type Point struct {
	Timestamp time.Time
	Value     float64
}

// Stats summarizes one window's worth of points.
type Stats struct {
	Mean      float64
	Min       float64
	Max       float64
	StdDev    float64
	Count     int
	Last      float64
	TrendSlope float64
}

// Config controls the buffer's horizon and the window sizes it reports on.
type Config struct {
	MaxHorizon   time.Duration
	WindowSizes  []time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxHorizon:  10 * time.Second,
		WindowSizes: []time.Duration{1 * time.Second, 5 * time.Second, 10 * time.Second},
	}
}

type sensorBuffer struct {
	mu     sync.Mutex
	points []Point
}

// Buffer owns one sliding window per sensor, each guarded by its own mutex
// so that concurrent sensors never contend with each other.
type Buffer struct {
	cfg      Config
	mu       sync.Mutex
	sensors  map[int64]*sensorBuffer
}

func NewBuffer(cfg Config) *Buffer {
	return &Buffer{cfg: cfg, sensors: make(map[int64]*sensorBuffer)}
}

func (b *Buffer) bufferFor(sensorID int64) *sensorBuffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	sb, ok := b.sensors[sensorID]
	if !ok {
		sb = &sensorBuffer{}
		b.sensors[sensorID] = sb
	}
	return sb
}

// AddReading appends a point, trims the front to the configured horizon, and
// returns a map of window-keyed stats ("w1", "w5", "w10", ...). Windows with
// zero entries are omitted.
func (b *Buffer) AddReading(sensorID int64, ts time.Time, value float64) map[string]Stats {
	sb := b.bufferFor(sensorID)
	sb.mu.Lock()
	defer sb.mu.Unlock()

	sb.points = append(sb.points, Point{Timestamp: ts, Value: value})

	cutoff := ts.Add(-b.cfg.MaxHorizon)
	i := 0
	for i < len(sb.points) && sb.points[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		sb.points = append([]Point(nil), sb.points[i:]...)
	}

	result := make(map[string]Stats, len(b.cfg.WindowSizes))
	for _, w := range b.cfg.WindowSizes {
		windowCutoff := ts.Add(-w)
		stats, ok := computeStats(sb.points, windowCutoff)
		if !ok {
			continue
		}
		result[fmt.Sprintf("w%d", int(w.Seconds()))] = stats
	}
	return result
}

func computeStats(points []Point, cutoff time.Time) (Stats, bool) {
	var filtered []Point
	for _, p := range points {
		if !p.Timestamp.Before(cutoff) {
			filtered = append(filtered, p)
		}
	}
	if len(filtered) == 0 {
		return Stats{}, false
	}

	sum := 0.0
	min := filtered[0].Value
	max := filtered[0].Value
	for _, p := range filtered {
		sum += p.Value
		if p.Value < min {
			min = p.Value
		}
		if p.Value > max {
			max = p.Value
		}
	}
	mean := sum / float64(len(filtered))

	variance := 0.0
	for _, p := range filtered {
		d := p.Value - mean
		variance += d * d
	}
	variance /= float64(len(filtered))
	stdDev := math.Sqrt(variance)

	first := filtered[0]
	last := filtered[len(filtered)-1]
	elapsed := last.Timestamp.Sub(first.Timestamp).Seconds()
	if elapsed < 1e-3 {
		elapsed = 1e-3
	}
	slope := (last.Value - first.Value) / elapsed
	if len(filtered) == 1 {
		stdDev = 0
		slope = 0
	}

	return Stats{
		Mean:       mean,
		Min:        min,
		Max:        max,
		StdDev:     stdDev,
		Count:      len(filtered),
		Last:       last.Value,
		TrendSlope: slope,
	}, true
}
