package observability

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/ruhusa/internal/config"
)

const (
	opTurn       = "turn"
	opParseError = "parse_error"

	minSamples = 5
)

// AnomalyDetector performs threshold-based anomaly detection using sliding windows.
// It warns when an operation's error rate, or the parse-error rate per turn,
// crosses the configured threshold. All methods are no-ops on a nil receiver.
type AnomalyDetector struct {
	mu            sync.Mutex
	errorCounts   map[string]*slidingWindow
	successCounts map[string]*slidingWindow
	cfg           *config.AnomalyConfig
	logger        *slog.Logger
	now           func() time.Time
}

type slidingWindow struct {
	entries []windowEntry
	window  time.Duration
}

type windowEntry struct {
	timestamp time.Time
	value     float64
}

// NewAnomalyDetector creates an anomaly detector from config.
func NewAnomalyDetector(cfg *config.AnomalyConfig, logger *slog.Logger) *AnomalyDetector {
	if cfg == nil {
		cfg = &config.AnomalyConfig{}
	}
	return &AnomalyDetector{
		errorCounts:   make(map[string]*slidingWindow),
		successCounts: make(map[string]*slidingWindow),
		cfg:           cfg,
		logger:        logger,
		now:           time.Now,
	}
}

func (a *AnomalyDetector) windowDuration() time.Duration {
	secs := a.cfg.WindowSeconds
	if secs <= 0 {
		secs = 300
	}
	return time.Duration(secs) * time.Second
}

// RecordError records a failed operation and returns true when the error
// rate is anomalous.
func (a *AnomalyDetector) RecordError(operation string) bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.window(a.errorCounts, operation).add(a.now(), 1)
	return a.checkErrorRate(operation)
}

// RecordSuccess records a successful operation.
func (a *AnomalyDetector) RecordSuccess(operation string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.window(a.successCounts, operation).add(a.now(), 1)
}

// RecordParseError records an unparseable model output and returns true
// when parse errors per turn exceed the threshold.
func (a *AnomalyDetector) RecordParseError() bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	parseErrors := a.window(a.errorCounts, opParseError)
	parseErrors.add(now, 1)

	threshold := a.cfg.ParseErrorRateThreshold
	if threshold <= 0 {
		return false
	}
	turns := a.window(a.errorCounts, opTurn).sum(now) + a.window(a.successCounts, opTurn).sum(now)
	if turns < minSamples {
		return false
	}
	rate := parseErrors.sum(now) / turns
	if rate <= threshold {
		return false
	}
	if a.logger != nil {
		a.logger.Warn("anomaly detected: high parse error rate",
			slog.Float64("parse_errors_per_turn", rate),
			slog.Float64("threshold", threshold),
			slog.Float64("turns", turns),
		)
	}
	return true
}

// checkErrorRate checks if the error rate exceeds the configured threshold.
// Must be called with a.mu held.
func (a *AnomalyDetector) checkErrorRate(operation string) bool {
	threshold := a.cfg.ErrorRateThreshold
	if threshold <= 0 {
		return false
	}

	now := a.now()
	errors := a.window(a.errorCounts, operation).sum(now)
	successes := a.window(a.successCounts, operation).sum(now)
	total := errors + successes

	if total < minSamples {
		return false
	}

	rate := errors / total
	if rate <= threshold {
		return false
	}
	if a.logger != nil {
		a.logger.Warn("anomaly detected: high error rate",
			slog.String("operation", operation),
			slog.Float64("error_rate", rate),
			slog.Float64("threshold", threshold),
			slog.Float64("errors", errors),
			slog.Float64("total", total),
		)
	}
	return true
}

func (a *AnomalyDetector) window(m map[string]*slidingWindow, key string) *slidingWindow {
	w, ok := m[key]
	if !ok {
		w = &slidingWindow{window: a.windowDuration()}
		m[key] = w
	}
	return w
}

// add appends a value and prunes expired entries.
func (w *slidingWindow) add(now time.Time, value float64) {
	w.entries = append(w.entries, windowEntry{timestamp: now, value: value})
	w.prune(now)
}

// sum returns the total value within the window.
func (w *slidingWindow) sum(now time.Time) float64 {
	w.prune(now)
	var total float64
	for _, e := range w.entries {
		total += e.value
	}
	return total
}

// prune removes entries older than the window duration.
func (w *slidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.entries) && w.entries[i].timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.entries = w.entries[i:]
	}
}
