package pipeline

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/arx-os/sensor-ingest/internal/model"
	"github.com/arx-os/sensor-ingest/internal/predictor"
	"github.com/arx-os/sensor-ingest/internal/repository"
	"github.com/arx-os/sensor-ingest/internal/threshold"
)

// BatchConfig tunes one execution of the batch forecasting pass.
type BatchConfig struct {
	WindowPoints   int
	HorizonMinutes float64
	Threshold      threshold.Config
}

func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		WindowPoints:   500,
		HorizonMinutes: 15,
		Threshold:      threshold.DefaultConfig(),
	}
}

// BatchResult summarizes one pass for logging and the admin CLI's exit
// status.
type BatchResult struct {
	SensorsConsidered int
	Forecasted        int
	Skipped           int
	EventsEmitted     int
	Errors            int
}

// RunBatchPass drives the per-sensor loop: for each active sensor, read
// recent history, forecast, persist the prediction, evaluate thresholds, and
// advance the watermark. One sensor's failure never aborts the pass; it is
// logged and counted.
func (p *Pipeline) RunBatchPass(ctx context.Context, pred *predictor.Predictor, cfg BatchConfig) (BatchResult, error) {
	sensors, err := p.repo.ActiveSensors(ctx)
	if err != nil {
		return BatchResult{}, err
	}

	var result BatchResult
	for _, sensor := range sensors {
		result.SensorsConsidered++
		if p.processSensor(ctx, pred, cfg, sensor, &result) {
			continue
		}
		result.Errors++
	}
	return result, nil
}

// processSensor runs one sensor through the forecast → persist → threshold →
// watermark sequence. It returns true on success (including a clean skip);
// false only on an error worth counting, after logging it.
func (p *Pipeline) processSensor(ctx context.Context, pred *predictor.Predictor, cfg BatchConfig, sensor model.Sensor, result *BatchResult) bool {
	maxID, err := p.repo.MaxReadingID(ctx, sensor.ID)
	if err != nil {
		p.logBatchError(sensor.ID, "max_reading_id", err)
		return false
	}

	wm, found, err := p.repo.Watermark(ctx, sensor.ID)
	if err != nil {
		p.logBatchError(sensor.ID, "watermark_read", err)
		return false
	}
	lastReadingID := int64(0)
	if found {
		lastReadingID = wm.LastReadingID
	}

	if maxID <= lastReadingID {
		// Cold-start gap: nothing new since the last pass. The watermark
		// already sits at or past the current max, so it is left untouched.
		result.Skipped++
		return true
	}

	rows, err := p.repo.Recent(ctx, sensor.ID, cfg.WindowPoints)
	if err != nil {
		p.logBatchError(sensor.ID, "recent_reading_read", err)
		return false
	}

	samples := make([]predictor.Sample, len(rows))
	for i, row := range rows {
		samples[i] = predictor.Sample{Timestamp: row.Timestamp, Value: row.Value}
	}

	forecast := pred.Forecast(ctx, sensor.SensorType, samples, cfg.HorizonMinutes)
	if forecast.Skipped {
		result.Skipped++
		if err := p.repo.UpsertWatermark(ctx, sensor.ID, maxID); err != nil {
			p.logBatchError(sensor.ID, "watermark_advance_on_skip", err)
			return false
		}
		return true
	}

	var explanation *string
	if forecast.Explanation != "" {
		explanation = &forecast.Explanation
	}

	var forecasted, eventEmitted bool
	txErr := p.repo.WithTx(ctx, func(tx *sqlx.Tx) error {
		activeModel, err := p.repo.ActiveModelTx(ctx, tx, sensor.ID)
		if err != nil {
			return err
		}

		prediction := model.Prediction{
			ModelID:         activeModel.ID,
			SensorID:        sensor.ID,
			PredictedValue:  forecast.PredictedValue,
			Confidence:      forecast.Confidence,
			TargetTimestamp: time.Now().UTC().Add(time.Duration(cfg.HorizonMinutes) * time.Minute),
			IsAnomaly:       forecast.IsAnomaly,
			AnomalyScore:    forecast.AnomalyScore,
			Explanation:     explanation,
		}

		predictionID, err := p.repo.InsertPredictionTx(ctx, tx, prediction)
		if err != nil {
			return err
		}
		prediction.ID = predictionID
		forecasted = true

		emitted, err := p.evaluateThresholdTx(ctx, tx, cfg.Threshold, sensor, prediction)
		if err != nil {
			return err
		}
		eventEmitted = emitted

		return p.repo.UpsertWatermarkTx(ctx, tx, sensor.ID, maxID)
	})
	if txErr != nil {
		p.logBatchError(sensor.ID, "batch_write_tx", txErr)
		return false
	}

	if forecasted {
		result.Forecasted++
	}
	if eventEmitted {
		result.EventsEmitted++
	}
	return true
}

// evaluateThresholdTx checks the sensor's active rule against prediction
// within the batch pass's open transaction, reporting whether an event was
// emitted.
func (p *Pipeline) evaluateThresholdTx(ctx context.Context, tx *sqlx.Tx, cfg threshold.Config, sensor model.Sensor, prediction model.Prediction) (bool, error) {
	rule, found, err := p.repo.ActiveThresholdTx(ctx, tx, sensor.ID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	ev, err := threshold.Evaluate(ctx, txEventRepo{repo: p.repo, tx: tx}, cfg, sensor.DeviceID, rule, prediction)
	if err != nil {
		return false, err
	}
	return ev != nil, nil
}

// txEventRepo adapts the repository's Tx-scoped event methods to
// threshold.Repository, so Evaluate's dedup check and event insert run
// inside the same transaction as the prediction they're evaluating.
type txEventRepo struct {
	repo *repository.Repository
	tx   *sqlx.Tx
}

func (t txEventRepo) RecentEvent(ctx context.Context, sensorID int64, eventCode string, minutes int) (bool, error) {
	return t.repo.RecentEventTx(ctx, t.tx, sensorID, eventCode, minutes)
}

func (t txEventRepo) InsertEvent(ctx context.Context, ev model.Event) (int64, error) {
	return t.repo.InsertEventTx(ctx, t.tx, ev)
}

func (p *Pipeline) logBatchError(sensorID int64, stage string, err error) {
	if p.log != nil {
		p.log.Warnw("batch pass stage failed", "sensor_id", sensorID, "stage", stage, "error", err)
	}
}
