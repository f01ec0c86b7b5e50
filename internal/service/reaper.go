package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/cadence/internal/config"
	"github.com/ifuryst/cadence/internal/models"
	"github.com/ifuryst/cadence/internal/store"
)

const abandonedMessage = "dispatch attempt abandoned before completion"

// Reaper returns jobs stuck in processing, typically left by a crashed
// worker, to the retry path. A reclaimed attempt counts as a transient failure.
type Reaper struct {
	store  store.Store
	policy config.DispatchPolicy
	logger *zap.Logger
	now    func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewReaper(st store.Store, policy config.DispatchPolicy, logger *zap.Logger) *Reaper {
	return &Reaper{
		store:  st,
		policy: policy,
		logger: logger,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

func (r *Reaper) Start(ctx context.Context) {
	r.logger.Info("Starting reaper",
		zap.Duration("interval", r.policy.ReaperInterval),
		zap.Duration("stale_after", r.policy.StaleAfter))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.policy.ReaperInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := r.RunOnce(ctx); err != nil {
					r.logger.Error("Reaper cycle failed", zap.Error(err))
				}
			case <-r.stopCh:
				r.logger.Info("Reaper stopped")
				return
			case <-ctx.Done():
				r.logger.Info("Reaper stopped due to context cancellation")
				return
			}
		}
	}()
}

func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// RunOnce reclaims every job claimed longer than StaleAfter ago
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	now := r.now().UTC()
	cutoff := now.Add(-r.policy.StaleAfter)

	stale, err := r.store.QueryStaleProcessing(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, candidate := range stale {
		job, err := r.store.Transition(ctx, candidate.ID, "reclaim", []models.JobStatus{models.StatusProcessing}, func(job *models.PublishingJob) error {
			// a fresh claim since the query is not stale
			if job.ClaimedAt != nil && job.ClaimedAt.After(cutoff) {
				return store.ErrNoChange
			}
			applyFailure(job, r.policy, now, models.ErrorClassTransient, abandonedMessage)
			return nil
		})
		if err != nil {
			var conflict *models.InvalidTransitionError
			if errors.As(err, &conflict) {
				continue
			}
			r.logger.Error("Failed to reclaim job", zap.String("job_id", candidate.ID), zap.Error(err))
			continue
		}
		if job.Status == models.StatusProcessing {
			continue
		}

		reclaimed++
		jobTransitionsTotal.WithLabelValues(string(job.Status)).Inc()
		r.logger.Warn("Reclaimed stale job",
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status)),
			zap.Int("retry_count", job.RetryCount))
	}

	return reclaimed, nil
}
