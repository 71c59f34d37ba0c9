// Package maintenance runs the periodic session-store sweep: prune by
// age, cap to the most recent entries, rotate oversized stores. The
// schedule is a standard 5-field cron expression from configuration.
package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/metric"

	"github.com/basket/clawgate/internal/bus"
	clawotel "github.com/basket/clawgate/internal/otel"
	"github.com/basket/clawgate/internal/sessions"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// NextRunTime returns the first fire time of a cron expression after
// the given instant. Also used to validate expressions at config load.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}

// Config holds the dependencies for the maintenance sweeper.
type Config struct {
	Store    *sessions.Store
	Schedule string // 5-field cron expression
	Logger   *slog.Logger
	Events   *bus.Bus
	Metrics  *clawotel.Metrics
}

// Sweeper periodically applies session-store maintenance on a cron
// schedule.
type Sweeper struct {
	store    *sessions.Store
	schedule cronlib.Schedule
	logger   *slog.Logger
	events   *bus.Bus
	metrics  *clawotel.Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a Sweeper. Returns an error when the cron
// expression does not parse; a sweeper is never started half-configured.
func NewSweeper(cfg Config) (*Sweeper, error) {
	sched, err := cronParser.Parse(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    cfg.Store,
		schedule: sched,
		logger:   logger,
		events:   cfg.Events,
		metrics:  cfg.Metrics,
	}, nil
}

// Start begins the sweep loop in a background goroutine. The first
// sweep runs immediately so a long cron gap cannot leave an oversized
// store unattended after restart.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("maintenance sweeper started", "next_run", s.schedule.Next(time.Now()))
}

// Stop cancels the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("maintenance sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	s.Sweep(ctx)

	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one maintenance pass and reports the outcome.
func (s *Sweeper) Sweep(ctx context.Context) {
	start := time.Now()
	report, err := s.store.Maintain()
	if err != nil {
		s.logger.Error("session store maintenance failed", "error", err)
		return
	}

	elapsed := time.Since(start)
	s.logger.Info("session store maintenance complete",
		"mode", string(report.Mode),
		"pruned", report.Pruned,
		"capped", report.Capped,
		"rotated", report.Rotated,
		"duration", elapsed,
	)

	if s.metrics != nil {
		s.metrics.MaintenanceDuration.Record(ctx, elapsed.Seconds())
		if n := report.Removed(); n > 0 {
			s.metrics.SessionsPruned.Add(ctx, int64(n), metric.WithAttributes(
				clawotel.AttrReason.String("sweep"),
			))
		}
		if report.Rotated {
			s.metrics.StoreRotations.Add(ctx, 1)
		}
	}
	if s.events != nil {
		s.events.Publish(bus.TopicSessionsMaintenance, bus.MaintenanceEvent{
			Pruned:  report.Pruned,
			Capped:  report.Capped,
			Rotated: report.Rotated,
			Backup:  report.Backup,
		})
	}
}
