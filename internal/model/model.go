// Package model defines the data types shared across the ingestion and
// analytics pipeline: readings as they arrive off the bus, and the
// persisted rows the repository reads and writes.
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Reading is the immutable record produced by the bus callback and carried
// through the hot path. SensorID is nil until the identity resolver fills
// it in.
type Reading struct {
	SensorID   *int64
	DeviceUUID uuid.UUID
	SensorUUID uuid.UUID
	SensorType string
	Value      float64
	DeviceTS   *time.Time
	IngestedTS time.Time
	Sequence   *uint64
}

// Sensor is a persisted row identified by an integer id.
type Sensor struct {
	ID         int64
	DeviceID   int64
	DeviceUUID uuid.UUID
	SensorUUID uuid.UUID
	SensorType string
	Unit       string
	IsActive   bool
}

// ThresholdCondition enumerates the comparison predicates a rule can apply.
type ThresholdCondition string

const (
	ConditionGreaterThan ThresholdCondition = "greater_than"
	ConditionLessThan    ThresholdCondition = "less_than"
	ConditionOutOfRange  ThresholdCondition = "out_of_range"
	ConditionEqualTo     ThresholdCondition = "equal_to"
)

// Severity enumerates threshold rule severities.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
	SeverityNotice   Severity = "notice"
)

// ThresholdRule is a persisted rule evaluated against a sensor's prediction.
type ThresholdRule struct {
	ID        int64
	SensorID  int64
	Condition ThresholdCondition
	ValueMin  *float64
	ValueMax  *float64
	Severity  Severity
	Name      string
	IsActive  bool
}

// Watermark is the per-sensor cursor the batch predictor advances.
type Watermark struct {
	SensorID        int64
	LastReadingID   int64
	LastProcessedAt time.Time
}

// ModelType enumerates the forecasting strategies a persisted model row can
// select, supplemented from original_source/ml/metadata.py.
type ModelType string

const (
	ModelTypeMovingAverage    ModelType = "moving_average"
	ModelTypeLinearRegression ModelType = "linear_regression"
)

// MLModel is the persisted row backing Q-ACTIVE-MODEL.
type MLModel struct {
	ID        int64
	SensorID  int64
	ModelType ModelType
	IsActive  bool
	TrainedAt time.Time
	Metadata  json.RawMessage
}

// Prediction is the persisted forecast + anomaly score row.
type Prediction struct {
	ID               int64
	ModelID          int64
	SensorID         int64
	PredictedValue   float64
	Confidence       float64
	PredictedAt      time.Time
	TargetTimestamp  time.Time
	IsAnomaly        bool
	AnomalyScore     float64
	Explanation      *string
}

// EventType enumerates the severities an emitted event can carry.
type EventType string

const (
	EventTypeCritical EventType = "critical"
	EventTypeWarning  EventType = "warning"
	EventTypeNotice   EventType = "notice"
)

// EventStatus enumerates the lifecycle states of an emitted event.
type EventStatus string

const (
	EventStatusActive       EventStatus = "active"
	EventStatusAcknowledged EventStatus = "acknowledged"
	EventStatusResolved     EventStatus = "resolved"
)

// EventCodePredictionThresholdBreach is the stable event code the threshold
// evaluator emits and deduplicates on.
const EventCodePredictionThresholdBreach = "PRED_THRESHOLD_BREACH"

// Event is the persisted row emitted on a threshold breach.
type Event struct {
	ID           int64
	DeviceID     int64
	SensorID     int64
	PredictionID *int64
	EventType    EventType
	EventCode    string
	Title        string
	Message      string
	Status       EventStatus
	CreatedAt    time.Time
	Payload      json.RawMessage
}

// DeadLetterEntry records a reading that could not be persisted after retry
// exhaustion, so a persistence failure never silently discards it.
type DeadLetterEntry struct {
	DeviceUUID uuid.UUID
	SensorUUID uuid.UUID
	SensorType string
	Value      float64
	DeviceTS   *time.Time
	Sequence   *uint64
	IngestedTS time.Time
	Reason     string
	Attempts   int
}
