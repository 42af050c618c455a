package timing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u64(v uint64) *uint64 { return &v }
func ts(t time.Time) *time.Time { return &t }

func TestMonitor_FirstSightHasNoLagOrDelta(t *testing.T) {
	m := New(DefaultConfig(), nil)
	now := time.Now()
	r := m.RecordReading(1, now, ts(now), u64(1))

	require.NotNil(t, r.LagMS)
	assert.Nil(t, r.DeltaMS)
	assert.Nil(t, r.WithinTolerance)
	assert.False(t, r.OutOfOrder)
}

func TestMonitor_SecondReadingComputesDeltaAndTolerance(t *testing.T) {
	m := New(Config{ExpectedIntervalMS: 1000, ToleranceMS: 100}, nil)
	now := time.Now()
	first := now
	second := now.Add(1 * time.Second)

	m.RecordReading(1, first, ts(first), u64(1))
	r := m.RecordReading(1, second, ts(second), u64(2))

	require.NotNil(t, r.DeltaMS)
	assert.InDelta(t, 1000.0, *r.DeltaMS, 1e-6)
	require.NotNil(t, r.WithinTolerance)
	assert.True(t, *r.WithinTolerance)
}

func TestMonitor_DeltaOutsideToleranceFlagged(t *testing.T) {
	m := New(Config{ExpectedIntervalMS: 1000, ToleranceMS: 50}, nil)
	now := time.Now()
	m.RecordReading(1, now, ts(now), u64(1))
	later := now.Add(2 * time.Second)
	r := m.RecordReading(1, later, ts(later), u64(2))

	require.NotNil(t, r.WithinTolerance)
	assert.False(t, *r.WithinTolerance)
}

// Scenario 4: out-of-order sequence counting.
func TestMonitor_OutOfOrderSequenceCounted(t *testing.T) {
	m := New(DefaultConfig(), nil)
	now := time.Now()
	m.RecordReading(1, now, ts(now), u64(5))
	r := m.RecordReading(1, now.Add(time.Second), ts(now.Add(time.Second)), u64(3))

	assert.True(t, r.OutOfOrder)

	snap, ok := m.SensorSnapshot(1)
	require.True(t, ok)
	assert.Equal(t, int64(1), snap.OutOfOrderCount)
	assert.Equal(t, int64(2), snap.TotalReadings)
}

func TestMonitor_OutOfOrderNeverFatal(t *testing.T) {
	m := New(DefaultConfig(), nil)
	now := time.Now()
	for i := 0; i < 5; i++ {
		r := m.RecordReading(1, now, ts(now), u64(1))
		assert.True(t, r.OutOfOrder || i == 0)
	}
	snap, ok := m.SensorSnapshot(1)
	require.True(t, ok)
	assert.Equal(t, int64(5), snap.TotalReadings)
}

func TestMonitor_HealthPassWhenLagLow(t *testing.T) {
	m := New(DefaultConfig(), nil)
	now := time.Now()
	m.RecordReading(1, now, ts(now.Add(-10*time.Millisecond)), u64(1))

	_, health := m.Snapshot()
	assert.Equal(t, HealthPass, health)
}

func TestMonitor_HealthWarnWhenLagExceedsThreshold(t *testing.T) {
	m := New(DefaultConfig(), nil)
	now := time.Now()
	m.RecordReading(1, now, ts(now.Add(-500*time.Millisecond)), u64(1))

	_, health := m.Snapshot()
	assert.Equal(t, HealthWarn, health)
}

func TestMonitor_HealthFailWhenOutOfOrderRateHigh(t *testing.T) {
	m := New(DefaultConfig(), nil)
	now := time.Now()
	m.RecordReading(1, now, ts(now), u64(10))
	for i := 0; i < 5; i++ {
		m.RecordReading(1, now, ts(now), u64(1))
	}

	_, health := m.Snapshot()
	assert.Equal(t, HealthFail, health)
}

func TestMonitor_SnapshotIsIndependentPerSensor(t *testing.T) {
	m := New(DefaultConfig(), nil)
	now := time.Now()
	m.RecordReading(1, now, ts(now), u64(1))
	m.RecordReading(2, now, ts(now), u64(1))
	m.RecordReading(2, now.Add(time.Second), ts(now.Add(time.Second)), u64(2))

	s1, _ := m.SensorSnapshot(1)
	s2, _ := m.SensorSnapshot(2)
	assert.Equal(t, int64(1), s1.TotalReadings)
	assert.Equal(t, int64(2), s2.TotalReadings)
}

func TestMonitor_UnknownSensorSnapshotNotOK(t *testing.T) {
	m := New(DefaultConfig(), nil)
	_, ok := m.SensorSnapshot(999)
	assert.False(t, ok)
}
