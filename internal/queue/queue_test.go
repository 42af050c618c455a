package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_PutGetFIFO(t *testing.T) {
	q := New(Config{MaxSize: 10, DropPolicy: DropOldest})
	require.True(t, q.Put(1))
	require.True(t, q.Put(2))
	require.True(t, q.Put(3))

	v1, ok := q.Get(time.Second)
	require.True(t, ok)
	assert.Equal(t, 1, v1)

	v2, _ := q.Get(time.Second)
	assert.Equal(t, 2, v2)
}

func TestQueue_GetTimesOutWhenEmpty(t *testing.T) {
	q := New(Config{MaxSize: 10})
	_, ok := q.Get(50 * time.Millisecond)
	assert.False(t, ok)
}

func TestQueue_GetUnblocksOnConcurrentPut(t *testing.T) {
	q := New(Config{MaxSize: 10})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		q.Put("hello")
	}()

	v, ok := q.Get(2 * time.Second)
	require.True(t, ok)
	assert.Equal(t, "hello", v)
	wg.Wait()
}

// P6: enqueued = dequeued + dropped + current_size.
func TestQueue_SaturationDropOldestAccounting(t *testing.T) {
	q := New(Config{MaxSize: 100, DropPolicy: DropOldest})
	for i := 0; i < 150; i++ {
		q.Put(i)
	}
	s := q.Stats()
	assert.Equal(t, 100, s.CurrentSize)
	assert.Equal(t, uint64(50), s.Dropped)
	assert.Equal(t, s.Enqueued, s.Dequeued+s.Dropped+uint64(s.CurrentSize))

	// Last 100 inserted (50..149) present in order.
	v, ok := q.Get(time.Second)
	require.True(t, ok)
	assert.Equal(t, 50, v)
}

func TestQueue_SaturationDropNewestRefuses(t *testing.T) {
	q := New(Config{MaxSize: 2, DropPolicy: DropNewest})
	assert.True(t, q.Put(1))
	assert.True(t, q.Put(2))
	assert.False(t, q.Put(3))

	s := q.Stats()
	assert.Equal(t, uint64(1), s.Dropped)
	assert.Equal(t, 2, s.CurrentSize)
}

func TestQueue_RateLimitDropsExcessPuts(t *testing.T) {
	q := New(Config{MaxSize: 100, RateLimitPerSec: 1})
	assert.True(t, q.Put(1)) // consumes the initial burst token
	assert.False(t, q.Put(2))

	s := q.Stats()
	assert.Equal(t, uint64(1), s.RateLimited)
}

func TestQueue_GetBatchDrainsWithoutFurtherWaiting(t *testing.T) {
	q := New(Config{MaxSize: 100})
	for i := 0; i < 5; i++ {
		q.Put(i)
	}
	batch := q.GetBatch(3, time.Second)
	assert.Equal(t, []any{0, 1, 2}, batch)

	s := q.Stats()
	assert.Equal(t, 2, s.CurrentSize)
}

func TestQueue_GetBatchTimesOutWhenEmpty(t *testing.T) {
	q := New(Config{MaxSize: 10})
	batch := q.GetBatch(5, 50*time.Millisecond)
	assert.Nil(t, batch)
}

func TestQueue_PerSensorFIFOOrderPreserved(t *testing.T) {
	q := New(Config{MaxSize: 100})
	for i := 0; i < 10; i++ {
		q.Put(i)
	}
	for i := 0; i < 10; i++ {
		v, ok := q.Get(time.Second)
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
}
