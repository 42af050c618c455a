// Package pipeline wires the per-sensor ingestion hot path and the batch
// forecasting pass on top of the leaf components: guards, identity
// resolution, the sliding window, the spike detector, the timing monitor,
// the repository, the predictor, and the threshold evaluator.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arx-os/sensor-ingest/internal/apperr"
	"github.com/arx-os/sensor-ingest/internal/broker"
	"github.com/arx-os/sensor-ingest/internal/guards"
	"github.com/arx-os/sensor-ingest/internal/identity"
	"github.com/arx-os/sensor-ingest/internal/metrics"
	"github.com/arx-os/sensor-ingest/internal/model"
	"github.com/arx-os/sensor-ingest/internal/predictor"
	"github.com/arx-os/sensor-ingest/internal/repository"
	"github.com/arx-os/sensor-ingest/internal/retry"
	"github.com/arx-os/sensor-ingest/internal/spike"
	"github.com/arx-os/sensor-ingest/internal/threshold"
	"github.com/arx-os/sensor-ingest/internal/timing"
	"github.com/arx-os/sensor-ingest/internal/window"
)

const component = "pipeline"

// maxDeadLetterEntries bounds the in-process dead-letter log so a sustained
// persistence outage cannot grow it unboundedly; the structured warn log is
// the durable record, this is only a diagnostics convenience.
const maxDeadLetterEntries = 1000

// RawReading is what the bus callback hands the pipeline before any
// identity resolution or validation has happened.
type RawReading struct {
	DeviceUUID string
	SensorUUID string
	SensorType string
	Value      float64
	DeviceTS   *time.Time
	Sequence   *uint64
}

// Pipeline owns the per-sensor in-memory analytics structures and every
// component the hot path and batch path depend on. The async processor owns
// the pipeline; the pipeline owns the spike detector and window buffer;
// nothing points back.
type Pipeline struct {
	resolver *identity.Resolver
	repo     *repository.Repository
	timing   *timing.Monitor
	window   *window.Buffer
	spike    *spike.Detector
	bus      *broker.Broker
	metrics  *metrics.Facade
	log      *zap.SugaredLogger
	retryCfg retry.Config
	now      guards.Now

	deadLetterMu sync.Mutex
	deadLetter   []model.DeadLetterEntry
}

// Config bundles the constructed dependencies a Pipeline needs.
type Config struct {
	Resolver    *identity.Resolver
	Repo        *repository.Repository
	Timing      *timing.Monitor
	Window      *window.Buffer
	Spike       *spike.Detector
	Bus         *broker.Broker
	Metrics     *metrics.Facade
	Log         *zap.SugaredLogger
	RetryConfig retry.Config
}

func New(cfg Config) *Pipeline {
	return &Pipeline{
		resolver: cfg.Resolver,
		repo:     cfg.Repo,
		timing:   cfg.Timing,
		window:   cfg.Window,
		spike:    cfg.Spike,
		bus:      cfg.Bus,
		metrics:  cfg.Metrics,
		log:      cfg.Log,
		retryCfg: cfg.RetryConfig,
	}
}

// SetNow overrides the reference instant guards compares device timestamps
// against; used by tests to pin "now" deterministically.
func (p *Pipeline) SetNow(now guards.Now) {
	p.now = now
}

// SetMetrics wires the facade after construction, breaking the cycle between
// the pipeline (which the processor's callback closes over) and the facade
// (which needs the processor's queue to exist first).
func (p *Pipeline) SetMetrics(m *metrics.Facade) {
	p.metrics = m
}

// Bus returns the broker readings are published to after the hot path
// completes, so callers can wire a downstream subscriber or drive shutdown.
func (p *Pipeline) Bus() *broker.Broker {
	return p.bus
}

// IngestReading runs one reading through the full hot path: resolve identity,
// guard, persist, record timing, update the window, check for a spike, and
// publish to the broker. The result's Outcome tells the caller (the async
// processor) whether to count it as an error; guard rejections are never
// errors.
func (p *Pipeline) IngestReading(ctx context.Context, raw RawReading) apperr.Result {
	ingestedTS := time.Now().UTC()

	sensorID, found, err := p.resolver.Resolve(ctx, raw.DeviceUUID, raw.SensorUUID)
	if err != nil {
		return apperr.TransientErr(component, "IDENTITY_RESOLVE_FAILED", err)
	}

	var resolvedID *int64
	if found {
		resolvedID = &sensorID
	}

	guardResult := guards.Check(guards.Input{
		SensorType: raw.SensorType,
		Value:      raw.Value,
		DeviceTS:   raw.DeviceTS,
		SensorID:   resolvedID,
	}, p.now)

	if !guardResult.IsOK() {
		if p.log != nil {
			p.log.Warnw("reading rejected by guards",
				"reason", guardResult.Err.Code,
				"device_uuid", raw.DeviceUUID,
				"sensor_uuid", raw.SensorUUID,
			)
		}
		return guardResult
	}

	reading := model.Reading{
		SensorID:   resolvedID,
		SensorType: raw.SensorType,
		Value:      raw.Value,
		DeviceTS:   raw.DeviceTS,
		IngestedTS: ingestedTS,
		Sequence:   raw.Sequence,
	}
	if parsed, ok := parseUUID(raw.DeviceUUID); ok {
		reading.DeviceUUID = parsed
	}
	if parsed, ok := parseUUID(raw.SensorUUID); ok {
		reading.SensorUUID = parsed
	}

	var insertedID int64
	err = retry.Do(ctx, p.retryCfg, func() error {
		id, insertErr := p.repo.InsertReading(ctx, reading)
		if insertErr != nil {
			return insertErr
		}
		insertedID = id
		return nil
	})
	if err != nil {
		p.recordDeadLetter(raw, "persistence_retry_exhausted", p.retryCfg.MaxAttempts)
		return apperr.TransientErr(component, "INSERT_READING_FAILED", err)
	}

	sampleTS := ingestedTS
	if raw.DeviceTS != nil {
		sampleTS = *raw.DeviceTS
	}

	timingResult := p.timing.RecordReading(sensorID, ingestedTS, raw.DeviceTS, raw.Sequence)
	if p.metrics != nil {
		p.metrics.RecordReading(timingResult.OutOfOrder)
		if timingResult.LagMS != nil {
			p.metrics.ObserveLag(*timingResult.LagMS)
		}
	}

	p.window.AddReading(sensorID, sampleTS, raw.Value)

	if spikeResult := p.spike.Check(sensorID, raw.Value, sampleTS); spikeResult != nil && p.log != nil {
		p.log.Warnw("spike detected",
			"sensor_id", sensorID, "z", spikeResult.Z, "oscillation", spikeResult.Oscillation,
			"severity", spikeResult.Severity, "reason", spikeResult.Reason,
		)
	}
	p.spike.Commit(sensorID, raw.Value, sampleTS)

	p.bus.Publish(reading)

	return apperr.OK(insertedID)
}

func (p *Pipeline) recordDeadLetter(raw RawReading, reason string, attempts int) {
	entry := model.DeadLetterEntry{
		SensorType: raw.SensorType,
		Value:      raw.Value,
		DeviceTS:   raw.DeviceTS,
		Sequence:   raw.Sequence,
		IngestedTS: time.Now().UTC(),
		Reason:     reason,
		Attempts:   attempts,
	}
	if parsed, ok := parseUUID(raw.DeviceUUID); ok {
		entry.DeviceUUID = parsed
	}
	if parsed, ok := parseUUID(raw.SensorUUID); ok {
		entry.SensorUUID = parsed
	}

	if p.log != nil {
		p.log.Warnw("reading moved to dead letter",
			"device_uuid", raw.DeviceUUID, "sensor_uuid", raw.SensorUUID, "reason", reason,
		)
	}

	p.deadLetterMu.Lock()
	defer p.deadLetterMu.Unlock()
	p.deadLetter = append(p.deadLetter, entry)
	if len(p.deadLetter) > maxDeadLetterEntries {
		p.deadLetter = p.deadLetter[len(p.deadLetter)-maxDeadLetterEntries:]
	}
}

// DeadLetters returns a copy of the readings that could not be persisted
// after retry exhaustion.
func (p *Pipeline) DeadLetters() []model.DeadLetterEntry {
	p.deadLetterMu.Lock()
	defer p.deadLetterMu.Unlock()
	return append([]model.DeadLetterEntry(nil), p.deadLetter...)
}

func parseUUID(s string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, false
	}
	return id, true
}
