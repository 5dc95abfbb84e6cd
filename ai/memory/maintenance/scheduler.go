package maintenance

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
)

// SchedulerConfig configures periodic maintenance.
type SchedulerConfig struct {
	Interval time.Duration
	// RetentionDays prunes knowledge older than this many days. 0 keeps everything.
	RetentionDays int
	// Timeout bounds one run.
	Timeout time.Duration
}

// Scheduler runs the prune operations periodically.
type Scheduler struct {
	svc       *Service
	cfg       SchedulerConfig
	scheduler gocron.Scheduler
}

// NewScheduler registers the maintenance jobs. Call Start to begin running them.
func NewScheduler(svc *Service, cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		return nil, errors.New("maintenance interval must be positive")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}

	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create scheduler")
	}
	s := &Scheduler{svc: svc, cfg: cfg, scheduler: scheduler}

	_, err = scheduler.NewJob(
		gocron.DurationJob(cfg.Interval),
		gocron.NewTask(s.pruneExpired),
		gocron.WithName("prune-expired-cache"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to register cache prune job")
	}

	if cfg.RetentionDays > 0 {
		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Interval),
			gocron.NewTask(s.pruneKnowledge),
			gocron.WithName("prune-old-knowledge"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to register knowledge prune job")
		}
	}
	return s, nil
}

// Start begins running the jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.svc.logger.Info("maintenance scheduler started",
		"interval", s.cfg.Interval,
		"retention_days", s.cfg.RetentionDays,
		"jobs", len(s.scheduler.Jobs()),
	)
}

// Shutdown stops the scheduler and waits for running jobs.
func (s *Scheduler) Shutdown() error {
	return s.scheduler.Shutdown()
}

// JobNames lists the registered jobs.
func (s *Scheduler) JobNames() []string {
	jobs := s.scheduler.Jobs()
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name())
	}
	return names
}

func (s *Scheduler) pruneExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	if _, err := s.svc.PruneExpired(ctx); err != nil {
		s.svc.logger.Error("scheduled cache prune failed", "error", err)
	}
}

func (s *Scheduler) pruneKnowledge() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	if _, err := s.svc.PruneAllOlderThan(ctx, s.cfg.RetentionDays); err != nil {
		s.svc.logger.Error("scheduled knowledge prune failed", "error", err)
	}
}
