// Package predictor implements the batch predictor (C9): moving-average and
// clamped linear-regression forecasting strategies sharing a single
// contract, plus anomaly scoring and best-effort explainer enrichment.
package predictor

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/arx-os/sensor-ingest/internal/explainer"
)

// Strategy selects which forecasting model a sensor uses.
type Strategy string

const (
	StrategyMovingAverage    Strategy = "moving_average"
	StrategyLinearRegression Strategy = "linear_regression"
)

// Config tunes both strategies' windows and the anomaly-scoring cutoff.
type Config struct {
	Strategy          Strategy
	MovingAverageWindow int
	MinPoints         int
	WindowPoints      int
	RidgeAlpha        float64
	MinConfidence     float64
	MaxConfidence     float64
	AnomalyThreshold  float64
}

func DefaultConfig() Config {
	return Config{
		Strategy:            StrategyMovingAverage,
		MovingAverageWindow: 60,
		MinPoints:           20,
		WindowPoints:        500,
		RidgeAlpha:          1.0,
		MinConfidence:       0.2,
		MaxConfidence:       0.95,
		AnomalyThreshold:    2.5,
	}
}

// Sample is one (timestamp, value) observation fed into a forecast.
type Sample struct {
	Timestamp time.Time
	Value     float64
}

// Forecast is the outcome of one forecasting pass over a sensor's recent
// values.
type Forecast struct {
	PredictedValue float64
	Confidence     float64
	AnomalyScore   float64
	IsAnomaly      bool
	Explanation    string
	Skipped        bool
	SkipReason     string
}

// Predictor holds no long-lived state between batch passes; every call reads
// fresh from the samples it's given.
type Predictor struct {
	cfg       Config
	log       *zap.SugaredLogger
	explainer *explainer.Client
}

func New(cfg Config, log *zap.SugaredLogger, explainerClient *explainer.Client) *Predictor {
	return &Predictor{cfg: cfg, log: log, explainer: explainerClient}
}

// Forecast computes a prediction at horizon minutes beyond the last sample's
// timestamp, using the configured strategy, then scores the observed last
// value against it for anomaly detection and fires best-effort explainer
// enrichment when flagged.
func (p *Predictor) Forecast(ctx context.Context, sensorType string, samples []Sample, horizonMinutes float64) Forecast {
	if len(samples) < 2 {
		return Forecast{Skipped: true, SkipReason: "insufficient_history"}
	}

	sorted := append([]Sample(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	var predicted, confidence float64
	switch p.cfg.Strategy {
	case StrategyLinearRegression:
		f, ok := p.linearRegression(sorted, horizonMinutes)
		if !ok {
			return Forecast{Skipped: true, SkipReason: "insufficient_history"}
		}
		predicted, confidence = f.PredictedValue, f.Confidence
	default:
		predicted, confidence = p.movingAverage(sorted)
	}

	values := make([]float64, len(sorted))
	for i, s := range sorted {
		values[i] = s.Value
	}
	observedLast := values[len(values)-1]

	sd := stddev(values)
	const epsilon = 1e-9
	if sd < epsilon {
		sd = epsilon
	}
	anomalyScore := clamp(math.Abs(observedLast-predicted)/sd, 0, 10)
	isAnomaly := anomalyScore > p.cfg.AnomalyThreshold

	result := Forecast{
		PredictedValue: predicted,
		Confidence:     confidence,
		AnomalyScore:   anomalyScore,
		IsAnomaly:      isAnomaly,
	}

	if isAnomaly && p.explainer != nil {
		result.Explanation = p.tryExplain(ctx, sensorType, observedLast, predicted, anomalyScore, string(p.cfg.Strategy))
	}

	return result
}

func (p *Predictor) tryExplain(ctx context.Context, metric string, observed, predicted, score float64, model string) string {
	explanation, err := p.explainer.Explain(ctx, metric, explainer.ModelOutput{
		Metric:        metric,
		ObservedValue: observed,
		ExpectedRange: [2]float64{predicted * 0.9, predicted * 1.1},
		AnomalyScore:  score,
		Model:         model,
		ModelVersion:  "1",
	})
	if err != nil {
		if p.log != nil {
			p.log.Warnw("explainer enrichment failed", "error", err)
		}
		return ""
	}
	return explanation
}

// movingAverage is the baseline strategy: mean of the last W values, with
// confidence scaled by how much of the full window was available.
func (p *Predictor) movingAverage(sorted []Sample) (predicted, confidence float64) {
	w := p.cfg.MovingAverageWindow
	start := 0
	if len(sorted) > w {
		start = len(sorted) - w
	}
	window := sorted[start:]

	sum := 0.0
	for _, s := range window {
		sum += s.Value
	}
	predicted = sum / float64(len(window))
	confidence = math.Min(1.0, float64(len(window))/float64(w))
	return predicted, confidence
}

type regressionFit struct {
	PredictedValue float64
	Confidence     float64
}

// linearRegression fits y = a + b*t (t in minutes since the first sample in
// the window) via ordinary least squares with ridge regularization, then
// clamps the raw forecast to a bounded range around the recent series.
func (p *Predictor) linearRegression(sorted []Sample, horizonMinutes float64) (regressionFit, bool) {
	windowStart := 0
	if len(sorted) > p.cfg.WindowPoints {
		windowStart = len(sorted) - p.cfg.WindowPoints
	}
	window := sorted[windowStart:]
	if len(window) < p.cfg.MinPoints {
		return regressionFit{}, false
	}

	t0 := window[0].Timestamp
	n := float64(len(window))

	var sumT, sumY, sumTT, sumTY float64
	values := make([]float64, len(window))
	for i, s := range window {
		t := s.Timestamp.Sub(t0).Minutes()
		y := s.Value
		values[i] = y
		sumT += t
		sumY += y
		sumTT += t * t
		sumTY += t * y
	}

	alpha := p.cfg.RidgeAlpha
	denom := n*(sumTT+alpha) - sumT*sumT
	if math.Abs(denom) < 1e-12 {
		denom = 1e-12
	}
	b := (n*sumTY - sumT*sumY) / denom
	a := (sumY - b*sumT) / n

	meanY := sumY / n
	var ssTot, ssRes float64
	for i, s := range window {
		t := s.Timestamp.Sub(t0).Minutes()
		fitted := a + b*t
		ssTot += (s.Value - meanY) * (s.Value - meanY)
		ssRes += (s.Value - fitted) * (s.Value - fitted)
	}
	r2 := 0.0
	if ssTot > 1e-12 {
		r2 = 1 - ssRes/ssTot
	}

	last := window[len(window)-1]
	tLast := last.Timestamp.Sub(t0).Minutes()
	yRaw := a + b*(tLast+horizonMinutes)

	clamped := clampForecast(yRaw, last.Value, values)
	confidence := clamp(r2, p.cfg.MinConfidence, p.cfg.MaxConfidence)

	return regressionFit{PredictedValue: clamped, Confidence: confidence}, true
}

// clampForecast bounds a raw regression output to satisfy P10: the forecast
// may not move further from the last observed value, nor further outside the
// recent series' range, than the configured margins allow.
func clampForecast(yRaw, lastValue float64, recent []float64) float64 {
	maxDelta := math.Max(math.Abs(lastValue)*0.5, 1.0)
	changeLow, changeHigh := lastValue-maxDelta, lastValue+maxDelta

	seriesMin, seriesMax := minMax(recent)
	margin := math.Max(0.25*(seriesMax-seriesMin), 1.0)
	rangeLow, rangeHigh := seriesMin-margin, seriesMax+margin

	low := math.Max(changeLow, rangeLow)
	high := math.Min(changeHigh, rangeHigh)
	if low > high {
		low, high = high, low
	}
	return clamp(yRaw, low, high)
}

func clamp(v, low, high float64) float64 {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}

func minMax(xs []float64) (min, max float64) {
	min, max = xs[0], xs[0]
	for _, x := range xs {
		if x < min {
			min = x
		}
		if x > max {
			max = x
		}
	}
	return min, max
}

func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}
