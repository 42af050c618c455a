package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/arx-os/sensor-ingest/internal/identity"
	"github.com/arx-os/sensor-ingest/internal/model"
)

// Repository implements every persistence query contract: the hot-path
// reading insert, identity resolution, the batch predictor's reads and
// writes, and threshold/event bookkeeping.
type Repository struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// dbExecutor is satisfied by both *sqlx.DB and *sqlx.Tx, so the batch pass's
// write methods can run unchanged against either a bare connection or the
// single per-pass transaction WithTx opens.
type dbExecutor interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func round5(v float64) float64 {
	return math.Round(v*1e5) / 1e5
}

// --- Q-RECENT ---

type readingRow struct {
	Value     float64   `db:"value"`
	Timestamp time.Time `db:"device_ts"`
}

// Recent returns the most recent limit (value, timestamp) rows for a sensor
// in descending timestamp order.
func (r *Repository) Recent(ctx context.Context, sensorID int64, limit int) ([]readingRow, error) {
	query := `
		SELECT value, device_ts
		FROM sensor_readings
		WHERE sensor_id = $1
		ORDER BY device_ts DESC
		LIMIT $2
	`
	var rows []readingRow
	err := r.db.SelectContext(ctx, &rows, query, sensorID, limit)
	return rows, err
}

// --- Q-COUNT-RECENT ---

// CountRecent returns the count of readings within the last hours hours.
func (r *Repository) CountRecent(ctx context.Context, sensorID int64, hours int) (int64, error) {
	query := `
		SELECT COUNT(*) FROM sensor_readings
		WHERE sensor_id = $1 AND device_ts >= NOW() - ($2 || ' hours')::interval
	`
	var count int64
	err := r.db.GetContext(ctx, &count, query, sensorID, hours)
	return count, err
}

// --- Q-RESOLVE / Q-RESOLVE-BATCH (identity.Repository) ---

// ResolveSensorID returns the single sensors.id whose sensor belongs to the
// device, or ok=false if no row matches.
func (r *Repository) ResolveSensorID(ctx context.Context, deviceUUID, sensorUUID string) (int64, bool, error) {
	query := `
		SELECT s.id
		FROM sensors s
		JOIN devices d ON d.id = s.device_id
		WHERE d.device_uuid = $1 AND s.sensor_uuid = $2
	`
	var id int64
	err := r.db.GetContext(ctx, &id, query, deviceUUID, sensorUUID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("resolve sensor id: %w", err)
	}
	return id, true, nil
}

type resolvedRow struct {
	DeviceUUID string `db:"device_uuid"`
	SensorUUID string `db:"sensor_uuid"`
	SensorID   int64  `db:"sensor_id"`
}

// ResolveSensorIDBatch returns (device_uuid, sensor_uuid, sensors.id) rows
// for each matching pair in the given list.
func (r *Repository) ResolveSensorIDBatch(ctx context.Context, pairs []identity.Key) ([]identity.ResolvedPair, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	deviceUUIDs := make([]string, len(pairs))
	sensorUUIDs := make([]string, len(pairs))
	for i, p := range pairs {
		deviceUUIDs[i] = p.DeviceUUID
		sensorUUIDs[i] = p.SensorUUID
	}

	query := `
		SELECT d.device_uuid, s.sensor_uuid, s.id AS sensor_id
		FROM sensors s
		JOIN devices d ON d.id = s.device_id
		JOIN UNNEST($1::text[], $2::text[]) AS pair(device_uuid, sensor_uuid)
			ON d.device_uuid = pair.device_uuid AND s.sensor_uuid = pair.sensor_uuid
	`
	var rows []resolvedRow
	if err := r.db.SelectContext(ctx, &rows, query, deviceUUIDs, sensorUUIDs); err != nil {
		return nil, fmt.Errorf("resolve sensor id batch: %w", err)
	}

	result := make([]identity.ResolvedPair, len(rows))
	for i, row := range rows {
		result[i] = identity.ResolvedPair{DeviceUUID: row.DeviceUUID, SensorUUID: row.SensorUUID, SensorID: row.SensorID}
	}
	return result, nil
}

// --- Q-WARNING-THRESHOLD / Q-ACTIVE-THRESHOLD ---

type thresholdRow struct {
	ID        int64           `db:"id"`
	SensorID  int64           `db:"sensor_id"`
	Condition string          `db:"condition"`
	ValueMin  sql.NullFloat64 `db:"value_min"`
	ValueMax  sql.NullFloat64 `db:"value_max"`
	Severity  string          `db:"severity"`
	Name      string          `db:"name"`
	IsActive  bool            `db:"is_active"`
}

func (t thresholdRow) toModel() model.ThresholdRule {
	rule := model.ThresholdRule{
		ID:        t.ID,
		SensorID:  t.SensorID,
		Condition: model.ThresholdCondition(t.Condition),
		Severity:  model.Severity(t.Severity),
		Name:      t.Name,
		IsActive:  t.IsActive,
	}
	if t.ValueMin.Valid {
		v := t.ValueMin.Float64
		rule.ValueMin = &v
	}
	if t.ValueMax.Valid {
		v := t.ValueMax.Float64
		rule.ValueMax = &v
	}
	return rule
}

// WarningThreshold returns the first active warning/out_of_range threshold
// for the sensor, or ok=false if none exists.
func (r *Repository) WarningThreshold(ctx context.Context, sensorID int64) (*model.ThresholdRule, bool, error) {
	query := `
		SELECT id, sensor_id, condition, value_min, value_max, severity, name, is_active
		FROM sensor_thresholds
		WHERE sensor_id = $1 AND is_active = true AND severity = 'warning' AND condition = 'out_of_range'
		ORDER BY id
		LIMIT 1
	`
	var row thresholdRow
	err := r.db.GetContext(ctx, &row, query, sensorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	rule := row.toModel()
	return &rule, true, nil
}

// ActiveThreshold returns the first active threshold for the sensor (any
// condition), ordered by id.
func (r *Repository) ActiveThreshold(ctx context.Context, sensorID int64) (*model.ThresholdRule, bool, error) {
	return r.activeThreshold(ctx, r.db, sensorID)
}

// ActiveThresholdTx is ActiveThreshold scoped to the batch pass's open
// transaction.
func (r *Repository) ActiveThresholdTx(ctx context.Context, tx *sqlx.Tx, sensorID int64) (*model.ThresholdRule, bool, error) {
	return r.activeThreshold(ctx, tx, sensorID)
}

func (r *Repository) activeThreshold(ctx context.Context, ex dbExecutor, sensorID int64) (*model.ThresholdRule, bool, error) {
	query := `
		SELECT id, sensor_id, condition, value_min, value_max, severity, name, is_active
		FROM sensor_thresholds
		WHERE sensor_id = $1 AND is_active = true
		ORDER BY id
		LIMIT 1
	`
	var row thresholdRow
	err := ex.GetContext(ctx, &row, query, sensorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	rule := row.toModel()
	return &rule, true, nil
}

// --- Q-ACTIVE-MODEL ---

type modelRow struct {
	ID        int64           `db:"id"`
	SensorID  int64           `db:"sensor_id"`
	ModelType string          `db:"model_type"`
	IsActive  bool            `db:"is_active"`
	TrainedAt time.Time       `db:"trained_at"`
	Metadata  json.RawMessage `db:"metadata"`
}

// ActiveModel returns the most recent active model row for the sensor, or
// inserts a moving-average baseline row if none exists, returning its id.
func (r *Repository) ActiveModel(ctx context.Context, sensorID int64) (model.MLModel, error) {
	return r.activeModel(ctx, r.db, sensorID)
}

// ActiveModelTx is ActiveModel scoped to the batch pass's open transaction.
func (r *Repository) ActiveModelTx(ctx context.Context, tx *sqlx.Tx, sensorID int64) (model.MLModel, error) {
	return r.activeModel(ctx, tx, sensorID)
}

func (r *Repository) activeModel(ctx context.Context, ex dbExecutor, sensorID int64) (model.MLModel, error) {
	query := `
		SELECT id, sensor_id, model_type, is_active, trained_at, metadata
		FROM sensor_models
		WHERE sensor_id = $1 AND is_active = true
		ORDER BY trained_at DESC
		LIMIT 1
	`
	var row modelRow
	err := ex.GetContext(ctx, &row, query, sensorID)
	if errors.Is(err, sql.ErrNoRows) {
		return r.insertBaselineModel(ctx, ex, sensorID)
	}
	if err != nil {
		return model.MLModel{}, err
	}

	return model.MLModel{
		ID:        row.ID,
		SensorID:  row.SensorID,
		ModelType: model.ModelType(row.ModelType),
		IsActive:  row.IsActive,
		TrainedAt: row.TrainedAt,
		Metadata:  row.Metadata,
	}, nil
}

func (r *Repository) insertBaselineModel(ctx context.Context, ex dbExecutor, sensorID int64) (model.MLModel, error) {
	query := `
		INSERT INTO sensor_models (sensor_id, model_type, is_active, trained_at)
		VALUES ($1, $2, true, NOW())
		RETURNING id, trained_at
	`
	var id int64
	var trainedAt time.Time
	err := ex.QueryRowxContext(ctx, query, sensorID, model.ModelTypeMovingAverage).Scan(&id, &trainedAt)
	if err != nil {
		return model.MLModel{}, fmt.Errorf("insert baseline model: %w", err)
	}
	return model.MLModel{ID: id, SensorID: sensorID, ModelType: model.ModelTypeMovingAverage, IsActive: true, TrainedAt: trainedAt}, nil
}

// --- Q-INSERT-PREDICTION ---

// InsertPrediction persists a forecast and returns the inserted row's id.
func (r *Repository) InsertPrediction(ctx context.Context, p model.Prediction) (int64, error) {
	return r.insertPrediction(ctx, r.db, p)
}

// InsertPredictionTx is InsertPrediction scoped to the batch pass's open
// transaction.
func (r *Repository) InsertPredictionTx(ctx context.Context, tx *sqlx.Tx, p model.Prediction) (int64, error) {
	return r.insertPrediction(ctx, tx, p)
}

func (r *Repository) insertPrediction(ctx context.Context, ex dbExecutor, p model.Prediction) (int64, error) {
	query := `
		INSERT INTO sensor_predictions
			(model_id, sensor_id, predicted_value, confidence, predicted_at, target_timestamp, is_anomaly, anomaly_score, explanation)
		VALUES ($1, $2, $3, $4, NOW(), $5, $6, $7, $8)
		RETURNING id
	`
	var id int64
	err := ex.QueryRowxContext(ctx, query,
		p.ModelID, p.SensorID, round5(p.PredictedValue), p.Confidence, p.TargetTimestamp,
		p.IsAnomaly, round5(p.AnomalyScore), p.Explanation,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert prediction: %w", err)
	}
	return id, nil
}

// --- Q-RECENT-EVENT (threshold.Repository) ---

// RecentEvent reports whether an active/acknowledged event with the given
// (sensor_id, event_code) was created within the last minutes minutes.
func (r *Repository) RecentEvent(ctx context.Context, sensorID int64, eventCode string, minutes int) (bool, error) {
	return r.recentEvent(ctx, r.db, sensorID, eventCode, minutes)
}

// RecentEventTx is RecentEvent scoped to the batch pass's open transaction.
func (r *Repository) RecentEventTx(ctx context.Context, tx *sqlx.Tx, sensorID int64, eventCode string, minutes int) (bool, error) {
	return r.recentEvent(ctx, tx, sensorID, eventCode, minutes)
}

func (r *Repository) recentEvent(ctx context.Context, ex dbExecutor, sensorID int64, eventCode string, minutes int) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM sensor_events
			WHERE sensor_id = $1 AND event_code = $2
				AND status IN ('active', 'acknowledged')
				AND created_at >= NOW() - ($3 || ' minutes')::interval
		)
	`
	var exists bool
	err := ex.GetContext(ctx, &exists, query, sensorID, eventCode, minutes)
	return exists, err
}

// --- Q-INSERT-EVENT (threshold.Repository) ---

// InsertEvent persists an emitted threshold-breach event and returns its id.
func (r *Repository) InsertEvent(ctx context.Context, ev model.Event) (int64, error) {
	return r.insertEvent(ctx, r.db, ev)
}

// InsertEventTx is InsertEvent scoped to the batch pass's open transaction.
func (r *Repository) InsertEventTx(ctx context.Context, tx *sqlx.Tx, ev model.Event) (int64, error) {
	return r.insertEvent(ctx, tx, ev)
}

func (r *Repository) insertEvent(ctx context.Context, ex dbExecutor, ev model.Event) (int64, error) {
	query := `
		INSERT INTO sensor_events
			(device_id, sensor_id, prediction_id, event_type, event_code, title, message, status, created_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), $9)
		RETURNING id
	`
	var id int64
	err := ex.QueryRowxContext(ctx, query,
		ev.DeviceID, ev.SensorID, ev.PredictionID, ev.EventType, ev.EventCode,
		ev.Title, ev.Message, ev.Status, ev.Payload,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	return id, nil
}

// --- Q-WATERMARK-GET / Q-WATERMARK-UPSERT ---

// Watermark returns the sensor's batch-processing cursor, or the zero value
// with ok=false if none has been recorded yet.
func (r *Repository) Watermark(ctx context.Context, sensorID int64) (model.Watermark, bool, error) {
	query := `
		SELECT sensor_id, last_reading_id, last_processed_at
		FROM sensor_watermarks
		WHERE sensor_id = $1
	`
	var row struct {
		SensorID        int64     `db:"sensor_id"`
		LastReadingID   int64     `db:"last_reading_id"`
		LastProcessedAt time.Time `db:"last_processed_at"`
	}
	err := r.db.GetContext(ctx, &row, query, sensorID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Watermark{}, false, nil
	}
	if err != nil {
		return model.Watermark{}, false, err
	}
	return model.Watermark{SensorID: row.SensorID, LastReadingID: row.LastReadingID, LastProcessedAt: row.LastProcessedAt}, true, nil
}

// UpsertWatermark advances the sensor's watermark, inserting a new row on
// first advance.
func (r *Repository) UpsertWatermark(ctx context.Context, sensorID, lastReadingID int64) error {
	return r.upsertWatermark(ctx, r.db, sensorID, lastReadingID)
}

// UpsertWatermarkTx is UpsertWatermark scoped to the batch pass's open
// transaction.
func (r *Repository) UpsertWatermarkTx(ctx context.Context, tx *sqlx.Tx, sensorID, lastReadingID int64) error {
	return r.upsertWatermark(ctx, tx, sensorID, lastReadingID)
}

func (r *Repository) upsertWatermark(ctx context.Context, ex dbExecutor, sensorID, lastReadingID int64) error {
	query := `
		INSERT INTO sensor_watermarks (sensor_id, last_reading_id, last_processed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (sensor_id) DO UPDATE
			SET last_reading_id = EXCLUDED.last_reading_id, last_processed_at = EXCLUDED.last_processed_at
	`
	_, err := ex.ExecContext(ctx, query, sensorID, lastReadingID)
	return err
}

// --- Q-MAX-READING-ID / Q-DEVICE-ID ---

// MaxReadingID returns the highest reading id recorded for the sensor, used
// to fast-forward a cold-start watermark past an empty window.
func (r *Repository) MaxReadingID(ctx context.Context, sensorID int64) (int64, error) {
	query := `SELECT COALESCE(MAX(id), 0) FROM sensor_readings WHERE sensor_id = $1`
	var id int64
	err := r.db.GetContext(ctx, &id, query, sensorID)
	return id, err
}

// DeviceID returns the owning device id for a sensor.
func (r *Repository) DeviceID(ctx context.Context, sensorID int64) (int64, error) {
	query := `SELECT device_id FROM sensors WHERE id = $1`
	var id int64
	err := r.db.GetContext(ctx, &id, query, sensorID)
	return id, err
}

// --- Q-ACTIVE-SENSORS ---

type sensorRow struct {
	ID         int64     `db:"id"`
	DeviceID   int64     `db:"device_id"`
	DeviceUUID uuid.UUID `db:"device_uuid"`
	SensorUUID uuid.UUID `db:"sensor_uuid"`
	SensorType string    `db:"sensor_type"`
	Unit       string    `db:"unit"`
	IsActive   bool      `db:"is_active"`
}

// ActiveSensors returns every sensor with is_active = true, driving the
// batch pass's per-sensor loop.
func (r *Repository) ActiveSensors(ctx context.Context) ([]model.Sensor, error) {
	query := `
		SELECT s.id, s.device_id, d.device_uuid, s.sensor_uuid, s.sensor_type, s.unit, s.is_active
		FROM sensors s
		JOIN devices d ON d.id = s.device_id
		WHERE s.is_active = true
	`
	var rows []sensorRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}

	sensors := make([]model.Sensor, len(rows))
	for i, row := range rows {
		sensors[i] = model.Sensor{
			ID: row.ID, DeviceID: row.DeviceID, DeviceUUID: row.DeviceUUID,
			SensorUUID: row.SensorUUID, SensorType: row.SensorType, Unit: row.Unit, IsActive: row.IsActive,
		}
	}
	return sensors, nil
}

// --- Q-INSERT-READING ---

// InsertReading persists a validated reading and returns its id.
func (r *Repository) InsertReading(ctx context.Context, reading model.Reading) (int64, error) {
	query := `
		INSERT INTO sensor_readings
			(device_uuid, sensor_uuid, sensor_id, value, device_ts, ingested_ts, sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	var id int64
	err := r.db.QueryRowxContext(ctx, query,
		reading.DeviceUUID, reading.SensorUUID, reading.SensorID, round5(reading.Value),
		reading.DeviceTS, reading.IngestedTS, reading.Sequence,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert reading: %w", err)
	}
	return id, nil
}

// Ping validates the pool's liveness, used by the readiness endpoint.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// WithTx runs fn within a single transaction, rolling back on error or
// panic and committing otherwise. The batch pass opens one such transaction
// per sensor, around its prediction/threshold/watermark write sequence.
func (r *Repository) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx failed: %v, rollback failed: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
