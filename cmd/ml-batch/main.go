// Command ml-batch runs the forecasting/threshold batch pass (C9-C11) over
// every active sensor, either once or on a sleep loop, against the same
// repository the ingestion server writes to.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arx-os/sensor-ingest/internal/config"
	"github.com/arx-os/sensor-ingest/internal/explainer"
	"github.com/arx-os/sensor-ingest/internal/identity"
	"github.com/arx-os/sensor-ingest/internal/logging"
	"github.com/arx-os/sensor-ingest/internal/pipeline"
	"github.com/arx-os/sensor-ingest/internal/predictor"
	"github.com/arx-os/sensor-ingest/internal/repository"
	"github.com/arx-os/sensor-ingest/internal/retry"
	"github.com/arx-os/sensor-ingest/internal/spike"
	"github.com/arx-os/sensor-ingest/internal/threshold"
	"github.com/arx-os/sensor-ingest/internal/timing"
	"github.com/arx-os/sensor-ingest/internal/window"
)

var (
	windowPoints   int
	horizonMinutes float64
	dedupeMinutes  int
	sleepSeconds   int
	runOnce        bool
)

var rootCmd = &cobra.Command{
	Use:   "ml-batch",
	Short: "Forecasting and threshold batch pass over active sensors",
	Long: `ml-batch pulls each active sensor's recent readings, runs the
configured forecasting strategy against them, persists the prediction, and
evaluates the sensor's threshold rule against it. By default it loops
forever on a fixed sleep interval; --once runs a single pass and exits.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runBatch,
}

func init() {
	rootCmd.Flags().IntVar(&windowPoints, "window", 500, "number of recent readings fed into the forecast")
	rootCmd.Flags().Float64Var(&horizonMinutes, "horizon-minutes", 15, "forecast horizon in minutes")
	rootCmd.Flags().IntVar(&dedupeMinutes, "dedupe-minutes", 10, "suppress repeat threshold events within this window")
	rootCmd.Flags().IntVar(&sleepSeconds, "sleep-seconds", 60, "delay between passes when not run with --once")
	rootCmd.Flags().BoolVar(&runOnce, "once", false, "run a single pass and exit instead of looping")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel)
	defer log.Sync()

	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repository.Connect(ctx, repository.PoolConfig{
		DatabaseURL:     cfg.DatabaseURL,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	repo := repository.New(db)
	cache := identity.NewCache(10_000, cfg.SensorMapTTL)
	resolver := identity.NewResolver(cache, repo, log)

	tm := timing.New(timing.Config{
		ExpectedIntervalMS: cfg.TimingExpectedIntervalMS,
		ToleranceMS:        cfg.TimingToleranceMS,
	}, log)

	windowSizes := make([]time.Duration, len(cfg.WindowSizes))
	for i, s := range cfg.WindowSizes {
		windowSizes[i] = time.Duration(s) * time.Second
	}
	win := window.NewBuffer(window.Config{
		MaxHorizon:  time.Duration(cfg.WindowMaxHorizonSeconds) * time.Second,
		WindowSizes: windowSizes,
	})

	det := spike.NewDetector(spike.Config{
		HistorySize:          cfg.SpikeHistorySize,
		ZThreshold:           cfg.SpikeZThreshold,
		OscillationThreshold: cfg.SpikeOscillationThreshold,
	})

	p := pipeline.New(pipeline.Config{
		Resolver:    resolver,
		Repo:        repo,
		Timing:      tm,
		Window:      win,
		Spike:       det,
		Log:         log,
		RetryConfig: retry.DefaultConfig(),
	})

	var explainerClient *explainer.Client
	if cfg.AIExplainerURL != "" {
		explainerClient = explainer.New(cfg.AIExplainerURL)
	}

	predCfg := predictor.DefaultConfig()
	if cfg.PredictorStrategy == string(predictor.StrategyLinearRegression) {
		predCfg.Strategy = predictor.StrategyLinearRegression
	}
	predCfg.WindowPoints = windowPoints
	if cfg.PredictorAnomalyThreshold > 0 {
		predCfg.AnomalyThreshold = cfg.PredictorAnomalyThreshold
	}
	pred := predictor.New(predCfg, log, explainerClient)

	batchCfg := pipeline.BatchConfig{
		WindowPoints:   windowPoints,
		HorizonMinutes: horizonMinutes,
		Threshold:      threshold.Config{DedupeMinutes: dedupeMinutes},
	}

	if runOnce {
		result, err := p.RunBatchPass(ctx, pred, batchCfg)
		if err != nil {
			return fmt.Errorf("batch pass: %w", err)
		}
		logBatchResult(log, result)
		return nil
	}

	ticker := time.NewTicker(time.Duration(sleepSeconds) * time.Second)
	defer ticker.Stop()

	for {
		result, err := p.RunBatchPass(ctx, pred, batchCfg)
		if err != nil {
			log.Errorw("batch pass failed", "error", err)
		} else {
			logBatchResult(log, result)
		}

		select {
		case <-ctx.Done():
			log.Info("shutting down ml-batch")
			return nil
		case <-ticker.C:
		}
	}
}

func logBatchResult(log interface {
	Infow(msg string, kv ...interface{})
}, result pipeline.BatchResult) {
	log.Infow("batch pass complete",
		"sensors_considered", result.SensorsConsidered,
		"forecasted", result.Forecasted,
		"skipped", result.Skipped,
		"events_emitted", result.EventsEmitted,
		"errors", result.Errors,
	)
}
