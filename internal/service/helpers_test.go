package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ifuryst/cadence/internal/config"
	"github.com/ifuryst/cadence/internal/models"
	"github.com/ifuryst/cadence/internal/service/publisher"
	"github.com/ifuryst/cadence/internal/store"
)

var base = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

func testPolicy() config.DispatchPolicy {
	return config.DispatchPolicy{
		Interval:            time.Second,
		BatchSize:           10,
		MaxRetries:          3,
		BaseDelay:           time.Minute,
		MaxDelay:            time.Hour,
		PublishTimeout:      time.Second,
		PlatformConcurrency: 5,
		StaleAfter:          10 * time.Minute,
		ReaperInterval:      time.Minute,
	}
}

// fakeClock is a settable clock shared by the services under test
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingPublisher answers every call with fn and counts calls
type recordingPublisher struct {
	platform models.Platform
	mu       sync.Mutex
	calls    []publisher.PublishContent
	fn       func(ctx context.Context, content publisher.PublishContent) (*publisher.PublishResult, error)
}

func (p *recordingPublisher) GetPlatformName() models.Platform {
	return p.platform
}

func (p *recordingPublisher) Publish(ctx context.Context, content publisher.PublishContent) (*publisher.PublishResult, error) {
	p.mu.Lock()
	p.calls = append(p.calls, content)
	p.mu.Unlock()
	return p.fn(ctx, content)
}

func (p *recordingPublisher) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func succeed(context.Context, publisher.PublishContent) (*publisher.PublishResult, error) {
	return &publisher.PublishResult{Success: true, PublishID: "ok"}, nil
}

func failTransient(platform models.Platform) func(context.Context, publisher.PublishContent) (*publisher.PublishResult, error) {
	return func(context.Context, publisher.PublishContent) (*publisher.PublishResult, error) {
		return nil, &models.TransientDispatchError{Platform: platform, Err: errTimeout}
	}
}

var errTimeout = errors.New("gateway timeout")

type harness struct {
	store      store.Store
	jobs       *JobService
	manager    *publisher.Manager
	dispatcher *Dispatcher
	clock      *fakeClock
}

func newHarness(t *testing.T, st store.Store, publishers ...publisher.Publisher) *harness {
	t.Helper()

	logger := zap.NewNop()
	clock := newFakeClock(base)
	manager := publisher.NewPublishManager(logger, publisher.WithTimeout(time.Second))
	for _, p := range publishers {
		require.NoError(t, manager.RegisterPublisher(p))
	}

	jobs := NewJobService(st, logger)
	jobs.now = clock.Now

	return &harness{
		store:      st,
		jobs:       jobs,
		manager:    manager,
		dispatcher: NewDispatcher(st, manager, NewMonitoringService(st, logger), testPolicy(), logger, WithClock(clock.Now)),
		clock:      clock,
	}
}

func (h *harness) create(t *testing.T, platforms ...string) *models.PublishingJob {
	t.Helper()
	job, err := h.jobs.Create(context.Background(), JobSpec{
		Caption:      "Launch teaser\nsecond line",
		Platforms:    platforms,
		ScheduleTime: base.Format(time.RFC3339),
	})
	require.NoError(t, err)
	return job
}

// force puts a job into status without going through the dispatcher
func force(t *testing.T, st store.Store, id string, status models.JobStatus) {
	t.Helper()
	all := []models.JobStatus{
		models.StatusScheduled, models.StatusProcessing, models.StatusPosted,
		models.StatusFailed, models.StatusCancelled,
	}
	_, err := st.Transition(context.Background(), id, "force", all, func(job *models.PublishingJob) error {
		job.Status = status
		if status == models.StatusProcessing {
			claimed := base
			job.ClaimedAt = &claimed
		}
		return nil
	})
	require.NoError(t, err)
}
