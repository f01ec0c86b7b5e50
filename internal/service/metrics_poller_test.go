package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ifuryst/cadence/internal/models"
	"github.com/ifuryst/cadence/internal/store"
)

type memorySink struct {
	mu    sync.Mutex
	saved []*Snapshot
	err   error
}

func (s *memorySink) Save(_ context.Context, snapshot *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, snapshot)
	return s.err
}

func (s *memorySink) Load(context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saved) == 0 {
		return nil, nil
	}
	return s.saved[len(s.saved)-1], nil
}

type failingCountStore struct {
	store.Store
}

func (failingCountStore) CountByStatus(context.Context) (map[models.JobStatus]int64, error) {
	return nil, errors.New("database is down")
}

func TestMetricsPollerPoll(t *testing.T) {
	h := newHarness(t, store.NewMemoryStore())
	ctx := context.Background()

	postedAt := func(at time.Time) func(*models.PublishingJob) error {
		return func(j *models.PublishingJob) error {
			j.Status = models.StatusPosted
			j.PostedAt = &at
			return nil
		}
	}

	recent := h.create(t, "tiktok")
	old := h.create(t, "tiktok")
	_, err := h.store.Transition(ctx, recent.ID, "post", []models.JobStatus{models.StatusScheduled}, postedAt(base.Add(-30*time.Minute)))
	require.NoError(t, err)
	_, err = h.store.Transition(ctx, old.ID, "post", []models.JobStatus{models.StatusScheduled}, postedAt(base.Add(-5*time.Hour)))
	require.NoError(t, err)

	_, err = h.jobs.Create(ctx, JobSpec{Caption: "boost", Platforms: []string{"instagram"}, ScheduleTime: "2024-01-16T09:00:00Z", BoostEnabled: true})
	require.NoError(t, err)
	_, err = h.jobs.Create(ctx, JobSpec{Caption: "second boost", Platforms: []string{"instagram"}, ScheduleTime: "2024-01-16T09:00:00Z", BoostEnabled: true})
	require.NoError(t, err)
	failed := h.create(t, "twitter")
	force(t, h.store, failed.ID, models.StatusFailed)

	sink := &memorySink{}
	poller := NewMetricsPoller(h.store, zap.NewNop(), time.Minute, 2*time.Hour, sink)
	poller.now = h.clock.Now

	assert.Nil(t, poller.Latest())

	snapshot, err := poller.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snapshot.PostedInWindow)
	assert.InDelta(t, 0.5, snapshot.VolumePerHour, 1e-9)
	assert.Equal(t, int64(2), snapshot.ActiveBoosts)
	assert.Equal(t, int64(2), snapshot.ByStatus[models.StatusPosted])
	assert.Equal(t, int64(2), snapshot.ByStatus[models.StatusScheduled])
	assert.Equal(t, int64(1), snapshot.ByStatus[models.StatusFailed])
	assert.Equal(t, int64(0), snapshot.ByStatus[models.StatusCancelled])
	assert.Equal(t, "2h0m0s", snapshot.Window)

	assert.Same(t, snapshot, poller.Latest())
	require.Len(t, sink.saved, 1)
}

func TestMetricsPollerKeepsLastSnapshotOnFailure(t *testing.T) {
	st := store.NewMemoryStore()
	poller := NewMetricsPoller(st, zap.NewNop(), time.Minute, time.Hour, nil)

	first, err := poller.Poll(context.Background())
	require.NoError(t, err)

	poller.store = failingCountStore{Store: st}
	_, err = poller.Poll(context.Background())
	assert.Error(t, err)
	assert.Same(t, first, poller.Latest())
}

func TestMetricsPollerSinkFailureIsNotFatal(t *testing.T) {
	sink := &memorySink{err: errors.New("redis unavailable")}
	poller := NewMetricsPoller(store.NewMemoryStore(), zap.NewNop(), time.Minute, time.Hour, sink)

	snapshot, err := poller.Poll(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, snapshot)
}

func TestMetricsPollerCurrentFallsBackToSink(t *testing.T) {
	shared := &Snapshot{PostedInWindow: 7}
	sink := &memorySink{saved: []*Snapshot{shared}}
	poller := NewMetricsPoller(store.NewMemoryStore(), zap.NewNop(), time.Minute, time.Hour, sink)

	current, err := poller.Current(context.Background())
	require.NoError(t, err)
	assert.Same(t, shared, current)

	none := NewMetricsPoller(store.NewMemoryStore(), zap.NewNop(), time.Minute, time.Hour, nil)
	current, err = none.Current(context.Background())
	require.NoError(t, err)
	assert.Nil(t, current)
}

func TestMetricsPollerStartStop(t *testing.T) {
	poller := NewMetricsPoller(store.NewMemoryStore(), zap.NewNop(), 10*time.Millisecond, time.Hour, nil)
	poller.Start(context.Background())

	require.Eventually(t, func() bool { return poller.Latest() != nil }, time.Second, 5*time.Millisecond)
	poller.Stop()
	poller.Stop()
}
