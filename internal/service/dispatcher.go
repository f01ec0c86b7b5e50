package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ifuryst/cadence/internal/config"
	"github.com/ifuryst/cadence/internal/lock"
	"github.com/ifuryst/cadence/internal/models"
	"github.com/ifuryst/cadence/internal/service/publisher"
	"github.com/ifuryst/cadence/internal/store"
	"github.com/ifuryst/cadence/pkg/util"
)

const scanLockKey = "cadence:dispatch:scan"

// Dispatcher scans for due jobs on a fixed interval and drives each claimed
// job through processing to posted, a backoff reschedule, or failed
type Dispatcher struct {
	store      store.Store
	publisher  *publisher.Manager
	monitoring *MonitoringService
	locker     lock.Locker
	policy     config.DispatchPolicy
	logger     *zap.Logger
	now        func() time.Time

	ticker   *time.Ticker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type DispatcherOption func(*Dispatcher)

// WithScanLock serialises scans across replicas through locker
func WithScanLock(locker lock.Locker) DispatcherOption {
	return func(d *Dispatcher) {
		d.locker = locker
	}
}

// WithClock replaces the wall clock used for due checks and backoff
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.now = now
	}
}

func NewDispatcher(st store.Store, manager *publisher.Manager, monitoring *MonitoringService, policy config.DispatchPolicy, logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:      st,
		publisher:  manager,
		monitoring: monitoring,
		policy:     policy,
		logger:     logger,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Start(ctx context.Context) error {
	if d.policy.Interval <= 0 {
		return fmt.Errorf("invalid dispatch interval %s", d.policy.Interval)
	}

	d.logger.Info("Starting dispatcher",
		zap.Duration("interval", d.policy.Interval),
		zap.Int("batch_size", d.policy.BatchSize),
		zap.Int("max_retries", d.policy.MaxRetries))

	d.ticker = time.NewTicker(d.policy.Interval)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		// Run first scan immediately
		d.runScan(ctx)

		for {
			select {
			case <-d.ticker.C:
				d.runScan(ctx)
			case <-d.stopCh:
				d.logger.Info("Dispatcher stopped")
				return
			case <-ctx.Done():
				d.logger.Info("Dispatcher context cancelled")
				return
			}
		}
	}()

	return nil
}

// Stop halts the scan loop and waits for the in-flight cycle to settle
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		if d.ticker != nil {
			d.ticker.Stop()
		}
		close(d.stopCh)
	})
	d.wg.Wait()
	d.logger.Info("Dispatcher shutdown completed")
}

func (d *Dispatcher) runScan(ctx context.Context) {
	start := time.Now()
	dispatched, err := d.RunOnce(ctx)
	duration := time.Since(start)
	dispatchScanDuration.Observe(duration.Seconds())

	if err != nil {
		d.logger.Error("Dispatch scan failed",
			zap.Error(err),
			zap.Duration("duration", duration))
		return
	}

	if dispatched > 0 {
		d.logger.Info("Dispatch scan completed",
			zap.Int("dispatched", dispatched),
			zap.Duration("duration", duration))
	}
}

// RunOnce performs one scan cycle and returns how many jobs it dispatched.
// A job lost to a concurrent claim is skipped; one job's publish failure never
// stops the rest of the batch.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	if d.locker != nil {
		lease, err := d.locker.Obtain(ctx, scanLockKey, d.policy.Interval)
		if errors.Is(err, lock.ErrNotObtained) {
			d.logger.Debug("Another replica holds the scan lease")
			return 0, nil
		}
		if err != nil {
			// the conditional claim still guards against double dispatch
			d.logger.Warn("Failed to obtain scan lease, scanning anyway", zap.Error(err))
		} else {
			defer func() {
				if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
					d.logger.Warn("Failed to release scan lease", zap.Error(err))
				}
			}()
		}
	}

	due, err := d.store.QueryDueBefore(ctx, d.now(), d.policy.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to query due jobs: %w", err)
	}

	var g errgroup.Group
	dispatched := 0
	for _, candidate := range due {
		job, err := d.claim(ctx, candidate.ID)
		if err != nil {
			var conflict *models.InvalidTransitionError
			if errors.As(err, &conflict) || errors.Is(err, models.ErrJobNotFound) {
				dispatchClaimConflictsTotal.Inc()
				d.logger.Debug("Job no longer claimable",
					zap.String("job_id", candidate.ID),
					zap.Error(err))
				continue
			}
			d.logger.Error("Failed to claim job", zap.String("job_id", candidate.ID), zap.Error(err))
			continue
		}

		dispatched++
		g.Go(func() error {
			d.dispatch(ctx, job)
			return nil
		})
	}
	_ = g.Wait()

	return dispatched, nil
}

// claim is the scheduled to processing compare-and-swap
func (d *Dispatcher) claim(ctx context.Context, id string) (*models.PublishingJob, error) {
	// postgres keeps microseconds; the claim time must survive a round trip
	now := d.now().UTC().Truncate(time.Microsecond)
	job, err := d.store.Transition(ctx, id, "claim", []models.JobStatus{models.StatusScheduled}, func(job *models.PublishingJob) error {
		if job.ScheduleTime.After(now) {
			return &models.InvalidTransitionError{JobID: job.ID, From: job.Status, Action: "claim not yet due"}
		}
		job.Status = models.StatusProcessing
		job.ClaimedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	jobTransitionsTotal.WithLabelValues(string(models.StatusProcessing)).Inc()
	return job, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, job *models.PublishingJob) {
	attempt := job.RetryCount + 1
	logger := d.logger.With(zap.String("job_id", job.ID), zap.Int("attempt", attempt))

	platforms := job.PlatformList()
	var outcomes []publisher.Outcome
	if len(platforms) == 0 {
		outcomes = []publisher.Outcome{{
			Class: models.ErrorClassPermanent,
			Err:   errors.New("job has no valid target platforms"),
		}}
	} else {
		content := publisher.PublishContent{
			JobID:     job.ID,
			Caption:   job.Caption,
			MediaRefs: job.MediaRefs,
			Boost:     job.BoostEnabled,
			Attempt:   attempt,
		}
		outcomes = d.publisher.PublishToPlatforms(ctx, content, platforms)
		_ = d.monitoring.RecordOutcomes(context.WithoutCancel(ctx), job.ID, attempt, outcomes)
	}

	// settle even when shutdown cancelled the publish calls
	finished, err := d.store.Transition(context.WithoutCancel(ctx), job.ID, "complete", []models.JobStatus{models.StatusProcessing}, func(j *models.PublishingJob) error {
		if !sameClaim(j.ClaimedAt, job.ClaimedAt) {
			return &models.InvalidTransitionError{JobID: j.ID, From: j.Status, Action: "settle superseded claim of"}
		}
		settle(j, d.policy, d.now().UTC(), outcomes)
		return nil
	})
	if err != nil {
		// the reaper may already have reclaimed a slow attempt
		logger.Warn("Failed to settle dispatched job", zap.Error(err))
		return
	}

	jobTransitionsTotal.WithLabelValues(string(finished.Status)).Inc()
	switch finished.Status {
	case models.StatusPosted:
		logger.Info("Job posted", zap.Int("platforms", len(platforms)))
	case models.StatusScheduled:
		logger.Warn("Job dispatch failed, retry scheduled",
			zap.Int("retry_count", finished.RetryCount),
			zap.Time("next_attempt", finished.ScheduleTime),
			zap.Stringp("error", finished.LastErrorMessage))
	case models.StatusFailed:
		logger.Error("Job failed",
			zap.Int("retry_count", finished.RetryCount),
			zap.Stringp("error", finished.LastErrorMessage))
	case models.StatusProcessing, models.StatusCancelled:
		panic(fmt.Sprintf("dispatch settled job %s into %s", finished.ID, finished.Status))
	default:
		panic(fmt.Sprintf("unhandled job status %q", string(finished.Status)))
	}
}

// sameClaim reports whether the stored claim is still the one being settled
func sameClaim(stored, held *time.Time) bool {
	if stored == nil || held == nil {
		return false
	}
	return stored.Equal(*held)
}

// settle folds the platform outcomes of one attempt into the job. The job is
// posted only when every platform succeeded.
func settle(job *models.PublishingJob, policy config.DispatchPolicy, now time.Time, outcomes []publisher.Outcome) {
	var failures []string
	class := models.ErrorClassTransient
	for _, o := range outcomes {
		if o.Succeeded() {
			continue
		}
		msg := "unknown error"
		if o.Err != nil {
			msg = util.FirstLine(o.Err.Error())
		}
		if o.Platform != "" {
			msg = string(o.Platform) + ": " + msg
		}
		failures = append(failures, msg)
		if o.Class == models.ErrorClassPermanent {
			class = models.ErrorClassPermanent
		}
	}

	job.ClaimedAt = nil
	if len(failures) == 0 {
		job.Status = models.StatusPosted
		job.LastErrorMessage = nil
		job.PostedAt = &now
		return
	}

	applyFailure(job, policy, now, class, strings.Join(failures, "; "))
}

// applyFailure charges one failed attempt to the job. Permanent failures and
// an exhausted budget end in failed; anything else is rescheduled with backoff.
func applyFailure(job *models.PublishingJob, policy config.DispatchPolicy, now time.Time, class models.ErrorClass, message string) {
	message = util.Truncate(message, maxErrorMessageLength)
	// counted even when permanent; resubmit resets the budget through RetryFloor
	job.RetryCount++
	job.LastErrorMessage = &message
	job.ClaimedAt = nil

	if class == models.ErrorClassPermanent || job.AttemptsSinceResubmit() >= policy.MaxRetries {
		job.Status = models.StatusFailed
		return
	}

	job.Status = models.StatusScheduled
	job.ScheduleTime = now.Add(Backoff(policy, job.AttemptsSinceResubmit()))
}

// Backoff is baseDelay * 2^attempts capped at maxDelay
func Backoff(policy config.DispatchPolicy, attempts int) time.Duration {
	delay := policy.BaseDelay
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= policy.MaxDelay || delay <= 0 {
			return policy.MaxDelay
		}
	}
	if delay > policy.MaxDelay {
		return policy.MaxDelay
	}
	return delay
}
