// Package threshold implements the threshold evaluator (C10): matching a
// prediction against a sensor's active rule, deduplicating against recent
// events, and composing the event row to emit.
package threshold

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arx-os/sensor-ingest/internal/model"
)

const defaultDedupeMinutes = 10

// Repository is the subset of persistence the evaluator needs: a dedup
// existence check and an insert.
type Repository interface {
	RecentEvent(ctx context.Context, sensorID int64, eventCode string, minutes int) (bool, error)
	InsertEvent(ctx context.Context, event model.Event) (int64, error)
}

// Config tunes the dedup window.
type Config struct {
	DedupeMinutes int
}

func DefaultConfig() Config {
	return Config{DedupeMinutes: defaultDedupeMinutes}
}

// Evaluate checks the rule's condition against the prediction's value and,
// on a violation with no recent duplicate, inserts the corresponding event.
// It returns the inserted event, or nil if nothing was emitted.
func Evaluate(ctx context.Context, repo Repository, cfg Config, deviceID int64, rule *model.ThresholdRule, prediction model.Prediction) (*model.Event, error) {
	if rule == nil || !rule.IsActive {
		return nil, nil
	}
	if !violates(rule, prediction.PredictedValue) {
		return nil, nil
	}

	exists, err := repo.RecentEvent(ctx, rule.SensorID, model.EventCodePredictionThresholdBreach, cfg.DedupeMinutes)
	if err != nil {
		return nil, fmt.Errorf("dedup check: %w", err)
	}
	if exists {
		return nil, nil
	}

	ev := compose(deviceID, rule, prediction)
	id, err := repo.InsertEvent(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	ev.ID = id
	return &ev, nil
}

func violates(rule *model.ThresholdRule, predicted float64) bool {
	switch rule.Condition {
	case model.ConditionGreaterThan:
		return rule.ValueMin != nil && predicted > *rule.ValueMin
	case model.ConditionLessThan:
		return rule.ValueMin != nil && predicted < *rule.ValueMin
	case model.ConditionOutOfRange:
		return (rule.ValueMin != nil && predicted < *rule.ValueMin) ||
			(rule.ValueMax != nil && predicted > *rule.ValueMax)
	case model.ConditionEqualTo:
		return rule.ValueMin != nil && predicted == *rule.ValueMin
	default:
		return false
	}
}

func severityToEventType(s model.Severity) model.EventType {
	switch s {
	case model.SeverityCritical:
		return model.EventTypeCritical
	case model.SeverityWarning:
		return model.EventTypeWarning
	default:
		return model.EventTypeNotice
	}
}

type payload struct {
	ThresholdID       int64    `json:"threshold_id"`
	ConditionType     string   `json:"condition_type"`
	ThresholdValueMin *float64 `json:"threshold_value_min"`
	ThresholdValueMax *float64 `json:"threshold_value_max"`
	PredictedValue    float64  `json:"predicted_value"`
}

func compose(deviceID int64, rule *model.ThresholdRule, prediction model.Prediction) model.Event {
	pl, _ := json.Marshal(payload{
		ThresholdID:       rule.ID,
		ConditionType:     string(rule.Condition),
		ThresholdValueMin: rule.ValueMin,
		ThresholdValueMax: rule.ValueMax,
		PredictedValue:    prediction.PredictedValue,
	})

	return model.Event{
		DeviceID:     deviceID,
		SensorID:     rule.SensorID,
		PredictionID: &prediction.ID,
		EventType:    severityToEventType(rule.Severity),
		EventCode:    model.EventCodePredictionThresholdBreach,
		Title:        rule.Name,
		Message:      fmt.Sprintf("predicted value %.5f breached rule %d (%s)", prediction.PredictedValue, rule.ID, rule.Condition),
		Status:       model.EventStatusActive,
		Payload:      pl,
	}
}
