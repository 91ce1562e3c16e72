package reconcile

import (
	"context"
	"log/slog"
	"time"
)

// SchedulerConfig holds sweep scheduling configuration.
type SchedulerConfig struct {
	Enabled       bool          `envconfig:"SWEEP_ENABLED" default:"true"`
	Interval      time.Duration `envconfig:"SWEEP_INTERVAL" default:"1h"`
	LookbackHours int           `envconfig:"SWEEP_LOOKBACK_HOURS" default:"24"`
	MaxBatch      int           `envconfig:"SWEEP_MAX_BATCH" default:"100"`
}

// Scheduler runs the sweeper on a fixed interval.
type Scheduler struct {
	cfg     SchedulerConfig
	sweeper *Sweeper
	logger  *slog.Logger
}

// NewScheduler creates a sweep scheduler.
func NewScheduler(cfg SchedulerConfig, sweeper *Sweeper, logger *slog.Logger) *Scheduler {
	return &Scheduler{cfg: cfg, sweeper: sweeper, logger: logger}
}

// Run sweeps on the configured interval until the context ends. The
// first sweep runs one interval after startup, giving in-flight
// payments time to settle through webhooks first.
func (s *Scheduler) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info("sweep scheduler disabled")
		return
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("sweep scheduler started",
		"interval", s.cfg.Interval,
		"lookback_hours", s.cfg.LookbackHours,
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweep scheduler stopped")
			return
		case <-ticker.C:
			params := Params{
				LookbackHours: s.cfg.LookbackHours,
				MaxBatch:      s.cfg.MaxBatch,
			}
			if _, err := s.sweeper.Run(ctx, params); err != nil {
				s.logger.Error("scheduled sweep failed", "error", err)
			}
		}
	}
}
