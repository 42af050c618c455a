// Package processor implements the async processor (C7): a worker pool
// draining a backpressure queue and invoking a downstream process callback,
// feature-flaggable so the pipeline can fall back to synchronous dispatch.
package processor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arx-os/sensor-ingest/internal/queue"
)

const (
	workerPollTimeout = 1 * time.Second
	joinDeadline      = 5 * time.Second
	dispatchTimeout   = 10 * time.Second
)

// ProcessFunc is the downstream work invoked for each dequeued item.
type ProcessFunc func(ctx context.Context, item any) error

// Config controls worker count and queue sizing.
type Config struct {
	Enabled     bool
	NumWorkers  int
	QueueConfig queue.Config
}

func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		NumWorkers: 4,
		QueueConfig: queue.Config{
			MaxSize:    1000,
			DropPolicy: queue.DropOldest,
		},
	}
}

// Processor wraps a bounded queue with a fixed worker pool supervised by an
// errgroup. When disabled, Enqueue invokes process synchronously instead of
// queuing.
type Processor struct {
	cfg     Config
	process ProcessFunc
	log     *zap.SugaredLogger
	q       *queue.Queue

	eg     *errgroup.Group
	cancel context.CancelFunc

	mu     sync.Mutex
	errors uint64
}

func New(cfg Config, process ProcessFunc, log *zap.SugaredLogger) *Processor {
	p := &Processor{
		cfg:     cfg,
		process: process,
		log:     log,
	}
	if cfg.Enabled {
		p.q = queue.New(cfg.QueueConfig)
	}
	return p
}

// Start launches the worker pool. No-op when the processor is disabled.
func (p *Processor) Start() {
	if !p.cfg.Enabled {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	eg, egCtx := errgroup.WithContext(ctx)
	p.eg = eg

	for i := 0; i < p.cfg.NumWorkers; i++ {
		eg.Go(func() error {
			p.runWorker(egCtx)
			return nil
		})
	}
}

func (p *Processor) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, ok := p.q.Get(workerPollTimeout)
		if !ok {
			continue
		}
		p.dispatch(item)
	}
}

func (p *Processor) dispatch(item any) {
	defer func() {
		if r := recover(); r != nil {
			p.mu.Lock()
			p.errors++
			p.mu.Unlock()
			if p.log != nil {
				p.log.Errorw("worker recovered from panic", "panic", r)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	if err := p.process(ctx, item); err != nil {
		p.mu.Lock()
		p.errors++
		p.mu.Unlock()
		if p.log != nil {
			p.log.Warnw("processing error", "error", err)
		}
	}
}

// Enqueue hands item to the worker pool, or invokes process synchronously
// when the processor is disabled. Returns false only when enabled and the
// queue refuses the item (rate limited, or full under DropNewest); the bus
// callback must never block on this call.
func (p *Processor) Enqueue(item any) bool {
	if !p.cfg.Enabled {
		_ = p.process(context.Background(), item)
		return true
	}
	return p.q.Put(item)
}

// Stop marks the processor stopped, optionally drains the queue, and joins
// workers with a bounded deadline via the errgroup.
func (p *Processor) Stop(drain bool) {
	if !p.cfg.Enabled {
		return
	}

	if drain {
		deadline := time.Now().Add(joinDeadline)
		for time.Now().Before(deadline) {
			if p.q.Stats().CurrentSize == 0 {
				break
			}
			time.Sleep(20 * time.Millisecond)
		}
	}

	p.cancel()

	done := make(chan struct{})
	go func() {
		_ = p.eg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(joinDeadline):
		if p.log != nil {
			p.log.Warnw("worker join deadline exceeded")
		}
	}
}

// Errors returns the number of processing errors observed so far.
func (p *Processor) Errors() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errors
}

// QueueStats exposes the underlying queue's stats, or a zero value when
// disabled.
func (p *Processor) QueueStats() queue.Stats {
	if !p.cfg.Enabled {
		return queue.Stats{}
	}
	return p.q.Stats()
}

// Queue exposes the underlying intake queue so the metrics facade can mirror
// its counters onto the Prometheus registry. Nil when disabled.
func (p *Processor) Queue() *queue.Queue {
	return p.q
}
