// Package config loads the environment-keyed configuration for one process,
// following the teacher's viper.AutomaticEnv pattern.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully-resolved configuration for one process. Defaults live
// beside the struct in the Default* constants below.
type Config struct {
	DatabaseURL string

	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	LogLevel string

	SensorMapTTL time.Duration

	QueueMaxSize      int
	QueueRateLimitRPS float64
	QueueDropOldest   bool

	AsyncProcessingEnabled bool
	AsyncQueueSize         int
	AsyncNumWorkers        int

	AIExplainerURL string

	SpikeZThreshold           float64
	SpikeOscillationThreshold float64
	SpikeHistorySize          int

	TimingExpectedIntervalMS int64
	TimingToleranceMS        int64

	WindowMaxHorizonSeconds int
	WindowSizes             []int

	PredictorStrategy         string
	PredictorAnomalyThreshold float64

	AdminHTTPAddr string
}

const (
	DefaultSensorMapTTLSeconds        = 300
	DefaultQueueMaxSize               = 10_000
	DefaultQueueRateLimitPerSec       = 0.0
	DefaultQueueDropOldest            = true
	DefaultAsyncProcessingEnabled     = true
	DefaultAsyncQueueSize             = 1_000
	DefaultAsyncNumWorkers            = 4
	DefaultAIExplainerURL             = "http://localhost:8003"
	DefaultDBMaxOpenConns             = 25
	DefaultDBMaxIdleConns             = 10
	DefaultDBConnMaxLifetimeMinutes   = 30
	DefaultLogLevel                   = "info"
	DefaultSpikeZThreshold            = 3.0
	DefaultSpikeOscillationThreshold  = 0.7
	DefaultSpikeHistorySize           = 20
	DefaultTimingExpectedIntervalMS   = 1000
	DefaultTimingToleranceMS          = 200
	DefaultWindowMaxHorizonSeconds    = 10
	DefaultPredictorStrategy          = "moving_average"
	DefaultPredictorAnomalyThreshold  = 2.5
	DefaultAdminHTTPAddr              = ":8090"
)

var defaultWindowSizes = []int{1, 5, 10}

// Load reads configuration from the process environment using viper's
// automatic-env binding, matching the teacher's db.Connect() convention of
// viper.AutomaticEnv() plus explicit viper.GetString lookups.
func Load() Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := Config{
		DatabaseURL:               v.GetString("DATABASE_URL"),
		DBMaxOpenConns:            getIntOrDefault(v, "DB_MAX_OPEN_CONNS", DefaultDBMaxOpenConns),
		DBMaxIdleConns:            getIntOrDefault(v, "DB_MAX_IDLE_CONNS", DefaultDBMaxIdleConns),
		DBConnMaxLifetime:         getDurationOrDefault(v, "DB_CONN_MAX_LIFETIME", DefaultDBConnMaxLifetimeMinutes*time.Minute),
		LogLevel:                  getStringOrDefault(v, "LOG_LEVEL", DefaultLogLevel),
		SensorMapTTL:              getDurationOrDefault(v, "SENSOR_MAP_TTL_SECONDS", DefaultSensorMapTTLSeconds*time.Second),
		QueueMaxSize:              getIntOrDefault(v, "MQTT_QUEUE_MAX_SIZE", DefaultQueueMaxSize),
		QueueRateLimitRPS:         getFloatOrDefault(v, "MQTT_RATE_LIMIT_PER_SEC", DefaultQueueRateLimitPerSec),
		QueueDropOldest:           getBoolOrDefault(v, "MQTT_DROP_OLDEST", DefaultQueueDropOldest),
		AsyncProcessingEnabled:    getBoolOrDefault(v, "ML_MQTT_ASYNC_PROCESSING", DefaultAsyncProcessingEnabled),
		AsyncQueueSize:            getIntOrDefault(v, "ML_MQTT_QUEUE_SIZE", DefaultAsyncQueueSize),
		AsyncNumWorkers:           getIntOrDefault(v, "ML_MQTT_NUM_WORKERS", DefaultAsyncNumWorkers),
		AIExplainerURL:            getStringOrDefault(v, "AI_EXPLAINER_URL", DefaultAIExplainerURL),
		SpikeZThreshold:           getFloatOrDefault(v, "SPIKE_Z_THRESHOLD", DefaultSpikeZThreshold),
		SpikeOscillationThreshold: getFloatOrDefault(v, "SPIKE_OSCILLATION_THRESHOLD", DefaultSpikeOscillationThreshold),
		SpikeHistorySize:          getIntOrDefault(v, "SPIKE_HISTORY_SIZE", DefaultSpikeHistorySize),
		TimingExpectedIntervalMS:  int64(getIntOrDefault(v, "TIMING_EXPECTED_INTERVAL_MS", DefaultTimingExpectedIntervalMS)),
		TimingToleranceMS:         int64(getIntOrDefault(v, "TIMING_TOLERANCE_MS", DefaultTimingToleranceMS)),
		WindowMaxHorizonSeconds:   getIntOrDefault(v, "WINDOW_MAX_HORIZON_SECONDS", DefaultWindowMaxHorizonSeconds),
		WindowSizes:               defaultWindowSizes,
		PredictorStrategy:         getStringOrDefault(v, "PREDICTOR_STRATEGY", DefaultPredictorStrategy),
		PredictorAnomalyThreshold: getFloatOrDefault(v, "PREDICTOR_ANOMALY_THRESHOLD", DefaultPredictorAnomalyThreshold),
		AdminHTTPAddr:             getStringOrDefault(v, "ADMIN_HTTP_ADDR", DefaultAdminHTTPAddr),
	}

	return cfg
}

func getStringOrDefault(v *viper.Viper, key, def string) string {
	if val := v.GetString(key); val != "" {
		return val
	}
	return def
}

func getIntOrDefault(v *viper.Viper, key string, def int) int {
	if val := v.GetString(key); val != "" {
		return v.GetInt(key)
	}
	return def
}

func getFloatOrDefault(v *viper.Viper, key string, def float64) float64 {
	if val := v.GetString(key); val != "" {
		return v.GetFloat64(key)
	}
	return def
}

func getBoolOrDefault(v *viper.Viper, key string, def bool) bool {
	if val := v.GetString(key); val != "" {
		return v.GetBool(key)
	}
	return def
}

func getDurationOrDefault(v *viper.Viper, key string, def time.Duration) time.Duration {
	if val := v.GetString(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		if secs := v.GetInt(key); secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}
