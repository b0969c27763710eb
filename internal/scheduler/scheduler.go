// Package scheduler runs the periodic reminder job: managers with requests
// pending longer than the configured age get a reminder notification.
//
// Reminders never change request state; they only append an audit record
// and notify.
package scheduler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jkaninda/ruhusa/internal/config"
)

// Reminder sends reminders for requests pending longer than age.
// Implemented by *lifecycle.Manager.
type Reminder interface {
	RemindStale(ctx context.Context, age time.Duration) (int, error)
}

// Scheduler fires the reminder job on a cron spec.
// It runs as a background goroutine in serve mode.
type Scheduler struct {
	reminder Reminder
	metrics  *Metrics
	logger   *slog.Logger
	spec     string
	age      time.Duration

	mu      sync.Mutex // Serializes runs; a slow run makes the next tick skip.
	running bool

	parser cron.Parser
}

// New creates a Scheduler. The spec is validated eagerly.
func New(reminder Reminder, metrics *Metrics, logger *slog.Logger, cfg *config.SchedulerConfig) (*Scheduler, error) {
	s := &Scheduler{
		reminder: reminder,
		metrics:  metrics,
		logger:   logger,
		spec:     cfg.Spec(),
		age:      cfg.PendingAge(),
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
	if _, err := s.parser.Parse(s.spec); err != nil {
		return nil, fmt.Errorf("invalid reminder spec %q: %w", s.spec, err)
	}
	return s, nil
}

// Start begins the cron loop. Returns a cancel function that stops the
// loop and waits for a running job to finish.
func (s *Scheduler) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(time.UTC))
	// Spec was validated in New.
	_, _ = c.AddFunc(s.spec, func() { s.RunOnce(ctx) })
	c.Start()

	s.logger.InfoContext(ctx, "reminder scheduler started",
		slog.String("spec", s.spec),
		slog.String("pending_age", s.age.String()),
		slog.Time("next_run", s.NextRun(time.Now().UTC())),
	)

	return func() {
		cancel()
		<-c.Stop().Done()
		s.logger.Info("reminder scheduler stopped")
	}
}

// RunOnce performs a single reminder pass. Overlapping calls are skipped.
// Returns the number of reminders sent.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.WarnContext(ctx, "reminder run skipped: previous run still in progress")
		return 0
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	correlationID := newCorrelationID()
	start := time.Now()
	if s.metrics != nil {
		s.metrics.RunsTotal.Inc()
	}

	sent, err := s.reminder.RemindStale(ctx, s.age)

	if s.metrics != nil {
		s.metrics.RunDuration.Observe(time.Since(start).Seconds())
		s.metrics.RemindersSent.Add(float64(sent))
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.RunsFailed.Inc()
		}
		s.logger.ErrorContext(ctx, "reminder run failed",
			slog.String("correlation_id", correlationID),
			slog.Int("sent", sent),
			slog.String("error", err.Error()),
		)
		return sent
	}

	s.logger.InfoContext(ctx, "reminder run completed",
		slog.String("correlation_id", correlationID),
		slog.Int("sent", sent),
		slog.Duration("duration", time.Since(start)),
	)
	return sent
}

// NextRun returns the next fire time after from.
func (s *Scheduler) NextRun(from time.Time) time.Time {
	sched, err := s.parser.Parse(s.spec)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(from)
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
