package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_SinglePointStability(t *testing.T) {
	b := NewBuffer(DefaultConfig())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	stats := b.AddReading(1, now, 50.0)
	w1, ok := stats["w1"]
	require.True(t, ok)
	assert.Equal(t, 0.0, w1.StdDev)
	assert.Equal(t, 0.0, w1.TrendSlope)
	assert.Equal(t, 1, w1.Count)
	assert.Equal(t, 50.0, w1.Last)
}

func TestBuffer_TrimsToHorizon(t *testing.T) {
	cfg := Config{MaxHorizon: 10 * time.Second, WindowSizes: []time.Duration{10 * time.Second}}
	b := NewBuffer(cfg)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	b.AddReading(1, base, 1.0)
	stats := b.AddReading(1, base.Add(11*time.Second), 2.0)

	w10 := stats["w10"]
	assert.Equal(t, 1, w10.Count, "first point should have been evicted once outside the horizon")
}

func TestBuffer_MultiWindowAggregates(t *testing.T) {
	cfg := Config{MaxHorizon: 10 * time.Second, WindowSizes: []time.Duration{1 * time.Second, 5 * time.Second}}
	b := NewBuffer(cfg)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	b.AddReading(1, base, 10.0)
	b.AddReading(1, base.Add(2*time.Second), 20.0)
	stats := b.AddReading(1, base.Add(4*time.Second), 30.0)

	// w1 only sees the latest point (within 1s of "now").
	w1 := stats["w1"]
	assert.Equal(t, 1, w1.Count)
	assert.Equal(t, 30.0, w1.Mean)

	// w5 sees all three points.
	w5 := stats["w5"]
	assert.Equal(t, 3, w5.Count)
	assert.InDelta(t, 20.0, w5.Mean, 1e-9)
}

func TestBuffer_TrendSlope(t *testing.T) {
	cfg := Config{MaxHorizon: 10 * time.Second, WindowSizes: []time.Duration{10 * time.Second}}
	b := NewBuffer(cfg)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	b.AddReading(1, base, 10.0)
	stats := b.AddReading(1, base.Add(5*time.Second), 20.0)

	w10 := stats["w10"]
	assert.InDelta(t, 2.0, w10.TrendSlope, 1e-9) // (20-10)/5s
}

func TestBuffer_IndependentPerSensor(t *testing.T) {
	b := NewBuffer(DefaultConfig())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	b.AddReading(1, now, 100.0)
	stats := b.AddReading(2, now, 200.0)

	assert.Equal(t, 200.0, stats["w1"].Last)
}
