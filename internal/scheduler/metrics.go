package scheduler

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the reminder scheduler.
type Metrics struct {
	RunsTotal     prometheus.Counter
	RunsFailed    prometheus.Counter
	RemindersSent prometheus.Counter
	RunDuration   prometheus.Histogram
}

// NewMetrics creates and registers scheduler metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		RunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ruhusa",
			Subsystem: "scheduler",
			Name:      "reminder_runs_total",
			Help:      "Total reminder job runs.",
		}),
		RunsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ruhusa",
			Subsystem: "scheduler",
			Name:      "reminder_runs_failed_total",
			Help:      "Total reminder job runs that ended with an error.",
		}),
		RemindersSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ruhusa",
			Subsystem: "scheduler",
			Name:      "reminders_sent_total",
			Help:      "Total stale pending requests a manager was reminded about.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ruhusa",
			Subsystem: "scheduler",
			Name:      "reminder_run_duration_seconds",
			Help:      "Duration of each reminder job run.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunsFailed,
		m.RemindersSent,
		m.RunDuration,
	)

	return m
}
