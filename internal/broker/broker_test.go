package broker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_PublishSubscribeDeliversItems(t *testing.T) {
	b := New(DefaultConfig())
	var received []int
	var mu sync.Mutex
	done := make(chan struct{})

	go func() {
		b.Subscribe(func(item any) {
			mu.Lock()
			received = append(received, item.(int))
			mu.Unlock()
		})
		close(done)
	}()

	for i := 0; i < 5; i++ {
		require.True(t, b.Publish(i))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 5
	}, 2*time.Second, 10*time.Millisecond)

	b.Stop()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, received)
}

func TestBroker_PublishNonBlockingDropsOnFull(t *testing.T) {
	b := New(Config{Capacity: 2})
	assert.True(t, b.Publish(1))
	assert.True(t, b.Publish(2))
	assert.False(t, b.Publish(3))

	assert.Equal(t, uint64(1), b.Dropped())
}

func TestBroker_StopExitsSubscribeAfterDraining(t *testing.T) {
	b := New(DefaultConfig())
	var count int64
	done := make(chan struct{})

	go func() {
		b.Subscribe(func(item any) {
			atomic.AddInt64(&count, 1)
		})
		close(done)
	}()

	for i := 0; i < 10; i++ {
		b.Publish(i)
	}
	b.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe loop did not exit after stop")
	}

	assert.Equal(t, int64(10), atomic.LoadInt64(&count))
}

func TestBroker_PublishAfterStopRefused(t *testing.T) {
	b := New(DefaultConfig())
	b.Stop()
	assert.False(t, b.Publish(1))
}
