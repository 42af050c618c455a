package processor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arx-os/sensor-ingest/internal/queue"
)

func TestProcessor_EnabledProcessesEnqueuedItems(t *testing.T) {
	var count int64
	p := New(Config{Enabled: true, NumWorkers: 2, QueueConfig: queue.Config{MaxSize: 10}},
		func(ctx context.Context, item any) error {
			atomic.AddInt64(&count, 1)
			return nil
		}, nil)
	p.Start()
	defer p.Stop(true)

	for i := 0; i < 20; i++ {
		require.True(t, p.Enqueue(i))
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&count) == 20
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProcessor_DisabledRunsSynchronously(t *testing.T) {
	var mu sync.Mutex
	var seen []int

	p := New(Config{Enabled: false}, func(ctx context.Context, item any) error {
		mu.Lock()
		seen = append(seen, item.(int))
		mu.Unlock()
		return nil
	}, nil)

	for i := 0; i < 3; i++ {
		assert.True(t, p.Enqueue(i))
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2}, seen)
}

func TestProcessor_ErrorsCountedNotFatal(t *testing.T) {
	p := New(Config{Enabled: true, NumWorkers: 1, QueueConfig: queue.Config{MaxSize: 10}},
		func(ctx context.Context, item any) error {
			return errors.New("boom")
		}, nil)
	p.Start()
	defer p.Stop(true)

	p.Enqueue(1)
	p.Enqueue(2)

	require.Eventually(t, func() bool {
		return p.Errors() == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProcessor_StopDrainsQueueBeforeJoining(t *testing.T) {
	var count int64
	p := New(Config{Enabled: true, NumWorkers: 2, QueueConfig: queue.Config{MaxSize: 100}},
		func(ctx context.Context, item any) error {
			atomic.AddInt64(&count, 1)
			return nil
		}, nil)
	p.Start()

	for i := 0; i < 50; i++ {
		p.Enqueue(i)
	}
	p.Stop(true)

	assert.Equal(t, int64(50), atomic.LoadInt64(&count))
}
