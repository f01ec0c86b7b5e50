package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ifuryst/cadence/internal/models"
	"github.com/ifuryst/cadence/internal/store"
)

// Snapshot holds the coarse activity counters shown on the dashboard
type Snapshot struct {
	CollectedAt    time.Time                  `json:"collected_at"`
	Window         string                     `json:"window"`
	PostedInWindow int64                      `json:"posted_in_window"`
	VolumePerHour  float64                    `json:"volume_per_hour"`
	ActiveBoosts   int64                      `json:"active_boosts"`
	ByStatus       map[models.JobStatus]int64 `json:"by_status"`
}

// SnapshotSink receives every snapshot the poller collects
type SnapshotSink interface {
	Save(ctx context.Context, snapshot *Snapshot) error
}

// RedisSnapshotSink shares the latest snapshot with other replicas
type RedisSnapshotSink struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

func NewRedisSnapshotSink(client redis.UniversalClient, key string, ttl time.Duration) *RedisSnapshotSink {
	return &RedisSnapshotSink{client: client, key: key, ttl: ttl}
}

func (s *RedisSnapshotSink) Save(ctx context.Context, snapshot *Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return s.client.Set(ctx, s.key, payload, s.ttl).Err()
}

// Load returns the snapshot last saved by any replica, or nil when none is stored
func (s *RedisSnapshotSink) Load(ctx context.Context) (*Snapshot, error) {
	payload, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snapshot Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snapshot, nil
}

// MetricsPoller refreshes live counters on its own ticker. It only reads the
// store, and a failed poll keeps the previous snapshot.
type MetricsPoller struct {
	store    store.Store
	logger   *zap.Logger
	interval time.Duration
	window   time.Duration
	sink     SnapshotSink
	now      func() time.Time

	mu     sync.RWMutex
	latest *Snapshot

	ticker   *time.Ticker
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewMetricsPoller(st store.Store, logger *zap.Logger, interval, window time.Duration, sink SnapshotSink) *MetricsPoller {
	return &MetricsPoller{
		store:    st,
		logger:   logger,
		interval: interval,
		window:   window,
		sink:     sink,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start begins the periodic poll
func (p *MetricsPoller) Start(ctx context.Context) {
	p.ticker = time.NewTicker(p.interval)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.logger.Info("Starting metrics poller", zap.Duration("interval", p.interval))

		p.update(ctx)
		for {
			select {
			case <-p.done:
				p.logger.Info("Metrics poller stopped")
				return
			case <-ctx.Done():
				p.logger.Info("Metrics poller stopped due to context cancellation")
				return
			case <-p.ticker.C:
				p.update(ctx)
			}
		}
	}()
}

// Stop stops the metrics poller
func (p *MetricsPoller) Stop() {
	p.stopOnce.Do(func() {
		if p.ticker != nil {
			p.ticker.Stop()
		}
		close(p.done)
	})
	p.wg.Wait()
}

func (p *MetricsPoller) update(ctx context.Context) {
	if _, err := p.Poll(ctx); err != nil {
		p.logger.Error("Failed to update live metrics", zap.Error(err))
	}
}

// Poll collects one snapshot, publishes it to the gauges and the sink, and
// makes it the latest
func (p *MetricsPoller) Poll(ctx context.Context) (*Snapshot, error) {
	now := p.now().UTC()

	byStatus, err := p.store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	boosts, err := p.store.CountActiveBoosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count active boosts: %w", err)
	}
	posted, err := p.store.CountPostedSince(ctx, now.Add(-p.window))
	if err != nil {
		return nil, fmt.Errorf("failed to count posted jobs: %w", err)
	}

	snapshot := &Snapshot{
		CollectedAt:    now,
		Window:         p.window.String(),
		PostedInWindow: posted,
		VolumePerHour:  float64(posted) / p.window.Hours(),
		ActiveBoosts:   boosts,
		ByStatus:       make(map[models.JobStatus]int64, 5),
	}
	for _, status := range []models.JobStatus{
		models.StatusScheduled, models.StatusProcessing, models.StatusPosted,
		models.StatusFailed, models.StatusCancelled,
	} {
		snapshot.ByStatus[status] = byStatus[status]
		jobsByStatus.WithLabelValues(string(status)).Set(float64(byStatus[status]))
	}
	activeBoosts.Set(float64(boosts))
	postedInWindow.Set(float64(posted))

	p.mu.Lock()
	p.latest = snapshot
	p.mu.Unlock()

	if p.sink != nil {
		if err := p.sink.Save(ctx, snapshot); err != nil {
			p.logger.Warn("Failed to publish live metrics snapshot", zap.Error(err))
		}
	}

	p.logger.Debug("Live metrics updated",
		zap.Int64("posted_in_window", posted),
		zap.Int64("active_boosts", boosts))

	return snapshot, nil
}

// Latest returns the last successful snapshot, or nil before the first poll
func (p *MetricsPoller) Latest() *Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest
}

type snapshotLoader interface {
	Load(ctx context.Context) (*Snapshot, error)
}

// Current returns the latest local snapshot, falling back to the shared one
// when this process has not polled yet
func (p *MetricsPoller) Current(ctx context.Context) (*Snapshot, error) {
	if snapshot := p.Latest(); snapshot != nil {
		return snapshot, nil
	}
	if loader, ok := p.sink.(snapshotLoader); ok {
		return loader.Load(ctx)
	}
	return nil, nil
}
