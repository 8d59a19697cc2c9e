package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweeper deletes rows that are past their expiry.
type Sweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

type SweepTarget struct {
	Name    string
	Sweeper Sweeper
}

type Scheduler struct {
	cron    *cron.Cron
	spec    string
	targets []SweepTarget
	timeout time.Duration
	log     zerolog.Logger
}

func NewScheduler(spec string, log zerolog.Logger, targets ...SweepTarget) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		spec:    spec,
		targets: targets,
		timeout: 30 * time.Second,
		log:     log,
	}
}

func (s *Scheduler) Start() error {
	if s.spec == "" || len(s.targets) == 0 {
		return nil
	}

	if _, err := s.cron.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.sweep(ctx)
	}); err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info().Str("spec", s.spec).Int("targets", len(s.targets)).Msg("cleanup scheduler started")
	return nil
}

// Stop halts the schedule and returns a context that is done once any
// running sweep has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) sweep(ctx context.Context) {
	for _, target := range s.targets {
		removed, err := target.Sweeper.DeleteExpired(ctx)
		if err != nil {
			s.log.Error().Err(err).Str("target", target.Name).Msg("cleanup failed")
			continue
		}
		if removed > 0 {
			s.log.Info().Str("target", target.Name).Int64("removed", removed).Msg("expired rows removed")
		}
	}
}
