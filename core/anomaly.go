package core

import (
	"context"
	"math"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// AnomalyKind classifies how a point deviated from its series' recent
// history.
type AnomalyKind string

const (
	KindStatisticalOutlier AnomalyKind = "StatisticalOutlier"
	KindVelocityBreach     AnomalyKind = "VelocityBreach"
	KindMagnitudeSpike     AnomalyKind = "MagnitudeSpike"
)

// AnomalyDetectorConfig tunes one series' sensitivity.
type AnomalyDetectorConfig struct {
	WindowSize       int
	SigmaThreshold   float64 // default 3
	SpikeSigma       float64 // default 5
	SpikeRelative    float64 // default 5x
	VelocityLimit    int     // max points per 60s window
	TripAfter        int     // anomalies within TripWindow before supplementary breaker trips
	TripWindow       time.Duration
	CooldownDuration time.Duration
}

// DefaultAnomalyDetectorConfig matches the documented defaults.
func DefaultAnomalyDetectorConfig() AnomalyDetectorConfig {
	return AnomalyDetectorConfig{
		WindowSize:       64,
		SigmaThreshold:   3,
		SpikeSigma:       5,
		SpikeRelative:    5,
		VelocityLimit:    100,
		TripAfter:        5,
		TripWindow:       5 * time.Minute,
		CooldownDuration: 2 * time.Minute,
	}
}

type seriesWindow struct {
	values []float64
	times  []time.Time
	last   float64
	hasLast bool
}

// AnomalyDetector watches arbitrary named series (e.g. "supply", "velocity")
// and classifies each new point, optionally driving a supplementary circuit
// breaker that trips after repeated anomalies and auto-resets after a
// cooldown — independent of the main economic circuit breaker, which trips
// on KPI thresholds rather than per-series statistics.
type AnomalyDetector struct {
	cfg    AnomalyDetectorConfig
	store  EventStore
	logger *log.Logger

	mu        sync.Mutex
	series    map[string]*seriesWindow
	anomalies map[string][]time.Time // per series, timestamps within TripWindow
	tripped   map[string]time.Time   // series currently supplementary-tripped, with trip time
}

// NewAnomalyDetector constructs a detector that appends AnomalyDetected
// events to store.
func NewAnomalyDetector(store EventStore, cfg AnomalyDetectorConfig) *AnomalyDetector {
	return &AnomalyDetector{
		cfg:       cfg,
		store:     store,
		logger:    log.StandardLogger(),
		series:    map[string]*seriesWindow{},
		anomalies: map[string][]time.Time{},
		tripped:   map[string]time.Time{},
	}
}

func (d *AnomalyDetector) SetLogger(l *log.Logger) { d.logger = l }

// Observe records a new point for series and returns the anomaly kind
// detected, if any. It appends an AnomalyDetected event when it finds one.
func (d *AnomalyDetector) Observe(ctx context.Context, series string, value float64) (AnomalyKind, bool, error) {
	d.mu.Lock()
	w, ok := d.series[series]
	if !ok {
		w = &seriesWindow{}
		d.series[series] = w
	}
	t := now()
	w.times = pruneOlderThan(w.times, t, 60*time.Second)
	mean, stdDev := meanStdDev(w.values)
	kind, anomalous := d.classifyLocked(w, value, mean, stdDev)

	w.values = append(w.values, value)
	if len(w.values) > d.cfg.WindowSize {
		w.values = w.values[len(w.values)-d.cfg.WindowSize:]
	}
	w.times = append(w.times, t)
	w.last = value
	w.hasLast = true

	if anomalous {
		d.anomalies[series] = append(pruneOlderThan(d.anomalies[series], t, d.cfg.TripWindow), t)
	}
	shouldTrip := anomalous && len(d.anomalies[series]) >= d.cfg.TripAfter
	if shouldTrip {
		if _, already := d.tripped[series]; !already {
			d.tripped[series] = t
		} else {
			shouldTrip = false
		}
	}
	d.mu.Unlock()

	if !anomalous {
		return "", false, nil
	}

	_, err := d.store.Append(ctx, EventInput{
		Type:          "AnomalyDetected",
		AggregateType: AggregateSystem,
		AggregateID:   "anomaly-detector:" + series,
		Payload:       AnomalyDetectedPayload{Series: series, Value: value, Mean: mean, StdDev: stdDev, Kind: string(kind)},
		Actor:         SystemActor("anomaly-detector"),
	})
	if err != nil {
		return kind, true, err
	}
	if shouldTrip {
		d.logger.WithFields(log.Fields{"series": series, "kind": kind}).Warn("supplementary breaker tripped for series")
	}
	return kind, true, nil
}

func (d *AnomalyDetector) classifyLocked(w *seriesWindow, value, mean, stdDev float64) (AnomalyKind, bool) {
	if stdDev > 0 {
		if math.Abs(value-mean) > d.cfg.SpikeSigma*stdDev {
			return KindMagnitudeSpike, true
		}
		if math.Abs(value-mean) > d.cfg.SigmaThreshold*stdDev {
			return KindStatisticalOutlier, true
		}
	}
	if w.hasLast && w.last != 0 {
		rel := math.Abs(value-w.last) / math.Abs(w.last)
		if rel > d.cfg.SpikeRelative {
			return KindMagnitudeSpike, true
		}
	}
	// w.times has already been pruned to the rolling 60-second horizon, so
	// its length plus the incoming point is the rolling count.
	if d.cfg.VelocityLimit > 0 && len(w.times)+1 > d.cfg.VelocityLimit {
		return KindVelocityBreach, true
	}
	return "", false
}

// SeriesTripped reports whether series is currently blocked by the
// supplementary breaker, auto-clearing it once CooldownDuration has elapsed.
func (d *AnomalyDetector) SeriesTripped(series string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	trippedAt, ok := d.tripped[series]
	if !ok {
		return false
	}
	if now().Sub(trippedAt) >= d.cfg.CooldownDuration {
		delete(d.tripped, series)
		return false
	}
	return true
}

func meanStdDev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

func pruneOlderThan(ts []time.Time, ref time.Time, window time.Duration) []time.Time {
	cutoff := ref.Add(-window)
	out := ts[:0:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}
