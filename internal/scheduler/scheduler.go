package scheduler

import (
	"context"
	"fmt"
	"time"

	"equipres/internal/config"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one unit of periodic work. It reports how many items it processed.
type Job func(ctx context.Context) (int, error)

// Runner executes a named job, recovering panics.
type Runner interface {
	Run(name string, job func(ctx context.Context) (int, error))
}

// Jobs are the maintenance tasks the scheduler triggers.
type Jobs interface {
	Runner
	OverdueScan(ctx context.Context) (int, error)
	PickupReminder(ctx context.Context) (int, error)
	Reconcile(ctx context.Context) (int, error)
	Backup(ctx context.Context) (int, error)
}

// Scheduler manages cron job scheduling.
type Scheduler struct {
	cron   *cron.Cron
	logger *zerolog.Logger
}

// New creates a UTC scheduler with seconds precision and registers the jobs
// configured in cfg. An empty spec disables the job.
func New(cfg config.SchedulerConfig, jobs Jobs, logger *zerolog.Logger) (*Scheduler, error) {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
	)
	s := &Scheduler{cron: c, logger: logger}

	entries := []struct {
		name string
		spec string
		job  Job
	}{
		{"overdue_scan", cfg.OverdueScan, jobs.OverdueScan},
		{"pickup_reminder", cfg.PickupReminder, jobs.PickupReminder},
		{"reconcile", cfg.Reconcile, jobs.Reconcile},
		{"backup", cfg.Backup, jobs.Backup},
	}
	for _, e := range entries {
		if e.spec == "" {
			continue
		}
		name, job := e.name, e.job
		if _, err := c.AddFunc(e.spec, func() { jobs.Run(name, job) }); err != nil {
			return nil, fmt.Errorf("failed to register %s job: %w", name, err)
		}
		logger.Debug().Str("job", name).Str("spec", e.spec).Msg("Cron job registered")
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.logger.Info().Int("jobs", len(s.cron.Entries())).Msg("Starting cron scheduler")
	s.cron.Start()
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Cron scheduler stopped")
}

func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
