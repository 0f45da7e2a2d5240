package scheduler

import (
	"context"
)

// RecoverySweepJob returns jobs whose worker disappeared to the queue.
func (s *Scheduler) RecoverySweepJob(ctx context.Context) error {
	count, err := s.recomputeSvc.RecoverStale(ctx, s.cfg.RecoveryThreshold)
	if err != nil {
		return err
	}
	tickFromContext(ctx).AddProcessed(int(count))
	return nil
}
