// Package guards implements the numeric and timestamp validation rails that
// run before any other pipeline work (C1). Checks run in fixed order; the
// first failure short-circuits the rest.
package guards

import (
	"math"
	"time"

	"github.com/arx-os/sensor-ingest/internal/apperr"
)

const component = "guards"

// Reason codes are stable strings surfaced to callers and logs.
const (
	ReasonValueIsNaN                 = "VALUE_IS_NAN"
	ReasonValueIsInfinite             = "VALUE_IS_INFINITE"
	ReasonValueOutsidePhysicalLimits  = "VALUE_OUTSIDE_PHYSICAL_LIMITS"
	ReasonTimestampTooFarInFuture     = "TIMESTAMP_TOO_FAR_IN_FUTURE"
	ReasonTimestampTooFarInPast       = "TIMESTAMP_TOO_FAR_IN_PAST"
	ReasonSensorIDMissing             = "SENSOR_ID_MISSING"
	ReasonSensorIDNotPositive         = "SENSOR_ID_NOT_POSITIVE"
)

// physicalLimit is an inclusive [min, max] bound for a recognized sensor
// type.
type physicalLimit struct {
	min, max float64
}

var physicalLimits = map[string]physicalLimit{
	"temperature": {-100, 500},
	"humidity":    {0, 100},
	"pressure":    {0, 2000},
	"air_quality": {0, 10_000},
	"voltage":     {0, 1000},
	"power":       {0, 1_000_000},
	"pH":          {0, 14},
}

const (
	maxFutureSkew = 300 * time.Second
	maxPastSkew   = 30 * 24 * time.Hour
)

// Input is the subset of a Reading the guards need; kept small and
// allocation-free so concurrent callers never share mutable state.
type Input struct {
	SensorType string
	Value      float64
	DeviceTS   *time.Time
	SensorID   *int64
}

// Now lets tests and callers override the reference instant; defaults to
// time.Now().UTC().
type Now func() time.Time

// Check runs the three guards in order and returns the first rejection, or
// an OK Result carrying nothing of interest.
func Check(in Input, now Now) apperr.Result {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	if r := checkValue(in.Value, in.SensorType); !r.IsOK() {
		return r
	}
	if r := checkTimestamp(in.DeviceTS, now()); !r.IsOK() {
		return r
	}
	if r := checkSensorID(in.SensorID); !r.IsOK() {
		return r
	}
	return apperr.OK(nil)
}

func checkValue(value float64, sensorType string) apperr.Result {
	if value != value { // NaN
		return reject(ReasonValueIsNaN, map[string]interface{}{"value": "NaN"})
	}
	if math.IsInf(value, 0) {
		return reject(ReasonValueIsInfinite, map[string]interface{}{"value": value})
	}

	if limit, ok := physicalLimits[sensorType]; ok {
		if value < limit.min || value > limit.max {
			return reject(ReasonValueOutsidePhysicalLimits, map[string]interface{}{
				"sensor_type": sensorType,
				"value":       value,
				"min":         limit.min,
				"max":         limit.max,
			})
		}
	}
	return apperr.OK(nil)
}

func checkTimestamp(deviceTS *time.Time, now time.Time) apperr.Result {
	if deviceTS == nil {
		return apperr.OK(nil)
	}
	delta := deviceTS.Sub(now)
	if delta > maxFutureSkew {
		return reject(ReasonTimestampTooFarInFuture, map[string]interface{}{
			"device_ts": deviceTS.Format(time.RFC3339),
			"now":       now.Format(time.RFC3339),
		})
	}
	if delta < -maxPastSkew {
		return reject(ReasonTimestampTooFarInPast, map[string]interface{}{
			"device_ts": deviceTS.Format(time.RFC3339),
			"now":       now.Format(time.RFC3339),
		})
	}
	return apperr.OK(nil)
}

func checkSensorID(sensorID *int64) apperr.Result {
	if sensorID == nil {
		return reject(ReasonSensorIDMissing, nil)
	}
	if *sensorID <= 0 {
		return reject(ReasonSensorIDNotPositive, map[string]interface{}{"sensor_id": *sensorID})
	}
	return apperr.OK(nil)
}

func reject(reason string, details map[string]interface{}) apperr.Result {
	return apperr.Result{
		Outcome: apperr.OutcomeRejected,
		Err:     apperr.Validation(component, reason, details),
	}
}
