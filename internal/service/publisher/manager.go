package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ifuryst/cadence/internal/models"
)

// Outcome is the classified result of publishing to one platform
type Outcome struct {
	Platform models.Platform
	Result   *PublishResult
	Class    models.ErrorClass
	Err      error
	Duration time.Duration
}

// Succeeded reports whether the platform confirmed the post
func (o Outcome) Succeeded() bool {
	return o.Err == nil && o.Result != nil && o.Result.Success
}

// Manager routes publish calls to the publisher registered for each platform
type Manager struct {
	mu          sync.RWMutex
	publishers  map[models.Platform]Publisher
	logger      *zap.Logger
	classifier  Classifier
	timeout     time.Duration
	concurrency int
}

type ManagerOption func(*Manager)

// WithClassifier installs the error classification hook
func WithClassifier(c Classifier) ManagerOption {
	return func(m *Manager) {
		if c != nil {
			m.classifier = c
		}
	}
}

// WithTimeout bounds every single-platform publish call
func WithTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithConcurrency bounds parallel platform calls for one job
func WithConcurrency(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

func NewPublishManager(logger *zap.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		publishers:  make(map[models.Platform]Publisher),
		logger:      logger,
		classifier:  DefaultClassifier,
		timeout:     30 * time.Second,
		concurrency: len(models.AllPlatforms),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) RegisterPublisher(publisher Publisher) error {
	platform := publisher.GetPlatformName()
	if !platform.Valid() {
		return fmt.Errorf("unknown platform %q", platform)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.publishers[platform]; exists {
		return fmt.Errorf("publisher for platform %s already registered", platform)
	}

	m.publishers[platform] = publisher
	m.logger.Info("Publisher registered", zap.String("platform", string(platform)))
	return nil
}

func (m *Manager) GetPublisher(platform models.Platform) (Publisher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	publisher, exists := m.publishers[platform]
	if !exists {
		return nil, fmt.Errorf("publisher for platform %s not found", platform)
	}
	return publisher, nil
}

// GetAvailablePlatforms lists registered platforms in display order
func (m *Manager) GetAvailablePlatforms() []models.Platform {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var platforms []models.Platform
	for _, p := range models.AllPlatforms {
		if _, ok := m.publishers[p]; ok {
			platforms = append(platforms, p)
		}
	}
	return platforms
}

// Publish calls one platform under the per-call timeout and classifies the result
func (m *Manager) Publish(ctx context.Context, platform models.Platform, content PublishContent) Outcome {
	start := time.Now()
	outcome := Outcome{Platform: platform}

	publisher, err := m.GetPublisher(platform)
	if err != nil {
		// nothing to retry against until configuration changes
		outcome.Err = &models.PermanentDispatchError{Platform: platform, Err: err}
		outcome.Class = models.ErrorClassPermanent
		return outcome
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	result, err := m.call(callCtx, publisher, content)
	outcome.Duration = time.Since(start)
	outcome.Result = result

	switch {
	case err != nil:
		outcome.Err = err
	case result == nil:
		outcome.Err = errors.New("publisher returned no result")
	case !result.Success:
		outcome.Err = result.Error
		if outcome.Err == nil {
			outcome.Err = errors.New("publish rejected")
		}
	default:
		return outcome
	}

	if result != nil && result.ErrorClass != models.ErrorClassNone {
		outcome.Class = result.ErrorClass
	} else {
		outcome.Class = m.classifier(platform, outcome.Err)
	}
	if outcome.Class == models.ErrorClassNone {
		outcome.Class = models.ErrorClassTransient
	}

	return outcome
}

type callResult struct {
	result *PublishResult
	err    error
}

// call bounds a publisher that ignores its context. An abandoned call keeps
// running in the background and its late result is discarded.
func (m *Manager) call(ctx context.Context, publisher Publisher, content PublishContent) (*PublishResult, error) {
	done := make(chan callResult, 1)
	go func() {
		result, err := publisher.Publish(ctx, content)
		done <- callResult{result: result, err: err}
	}()

	select {
	case r := <-done:
		return r.result, r.err
	case <-ctx.Done():
		return nil, &models.TransientDispatchError{Platform: publisher.GetPlatformName(), Err: ctx.Err()}
	}
}

// PublishToPlatforms fans out to every platform with bounded parallelism and
// returns once all calls have completed or timed out. Outcomes keep the order
// of platforms.
func (m *Manager) PublishToPlatforms(ctx context.Context, content PublishContent, platforms []models.Platform) []Outcome {
	outcomes := make([]Outcome, len(platforms))

	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for i, platform := range platforms {
		i, platform := i, platform
		g.Go(func() error {
			outcomes[i] = m.Publish(ctx, platform, content)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		m.logger.Info("Publishing completed",
			zap.String("job_id", content.JobID),
			zap.String("platform", string(o.Platform)),
			zap.Bool("success", o.Succeeded()),
			zap.String("error_class", string(o.Class)),
			zap.Duration("duration", o.Duration))
	}

	return outcomes
}
