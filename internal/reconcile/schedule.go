package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// runTimeout bounds a single scheduled run.
const runTimeout = 10 * time.Minute

// Scheduler runs reconciliation on a cron spec.
type Scheduler struct {
	cron       *cron.Cron
	reconciler *Reconciler
	logger     *zap.Logger
}

// NewScheduler registers spec (standard 5-field cron or a descriptor like "@every 15m").
func NewScheduler(spec string, reconciler *Reconciler, log *zap.Logger) (*Scheduler, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	s := &Scheduler{cron: c, reconciler: reconciler, logger: log}
	if _, err := c.AddFunc(spec, s.runOnce); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	if _, err := s.reconciler.Run(ctx, 0); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			s.logger.Info("Skipping scheduled reconciliation, another run holds the lock")
			return
		}
		s.logger.Error("Scheduled reconciliation failed", zap.Error(err))
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Reconciliation scheduler started")
}

// Stop waits for a running job to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
