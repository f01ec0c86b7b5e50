package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ifuryst/cadence/internal/models"
)

func fixed(platform models.Platform, result *PublishResult, err error) Publisher {
	return PublisherFunc{Platform: platform, Fn: func(context.Context, PublishContent) (*PublishResult, error) {
		return result, err
	}}
}

func TestRegisterPublisher(t *testing.T) {
	m := NewPublishManager(zap.NewNop())

	require.NoError(t, m.RegisterPublisher(fixed(models.PlatformTikTok, &PublishResult{Success: true}, nil)))
	assert.Error(t, m.RegisterPublisher(fixed(models.PlatformTikTok, nil, nil)))
	assert.Error(t, m.RegisterPublisher(fixed(models.Platform("myspace"), nil, nil)))
	require.NoError(t, m.RegisterPublisher(fixed(models.PlatformFacebook, &PublishResult{Success: true}, nil)))

	assert.Equal(t, []models.Platform{models.PlatformTikTok, models.PlatformFacebook}, m.GetAvailablePlatforms())
}

func TestPublishClassification(t *testing.T) {
	tests := []struct {
		name      string
		publisher Publisher
		platform  models.Platform
		success   bool
		class     models.ErrorClass
	}{
		{
			name:      "success",
			publisher: fixed(models.PlatformTikTok, &PublishResult{Success: true}, nil),
			platform:  models.PlatformTikTok,
			success:   true,
			class:     models.ErrorClassNone,
		},
		{
			name:      "typed permanent",
			publisher: fixed(models.PlatformTikTok, nil, &models.PermanentDispatchError{Platform: models.PlatformTikTok, Err: errors.New("bad token")}),
			platform:  models.PlatformTikTok,
			class:     models.ErrorClassPermanent,
		},
		{
			name:      "typed transient",
			publisher: fixed(models.PlatformTikTok, nil, &models.TransientDispatchError{Platform: models.PlatformTikTok, Err: errors.New("503")}),
			platform:  models.PlatformTikTok,
			class:     models.ErrorClassTransient,
		},
		{
			name:      "untyped error",
			publisher: fixed(models.PlatformTikTok, nil, errors.New("connection reset")),
			platform:  models.PlatformTikTok,
			class:     models.ErrorClassTransient,
		},
		{
			name:      "result carries class",
			publisher: fixed(models.PlatformTikTok, &PublishResult{Success: false, ErrorClass: models.ErrorClassPermanent, Error: errors.New("policy")}, nil),
			platform:  models.PlatformTikTok,
			class:     models.ErrorClassPermanent,
		},
		{
			name:      "nil result",
			publisher: fixed(models.PlatformTikTok, nil, nil),
			platform:  models.PlatformTikTok,
			class:     models.ErrorClassTransient,
		},
		{
			name:      "unregistered platform",
			publisher: fixed(models.PlatformTikTok, &PublishResult{Success: true}, nil),
			platform:  models.PlatformYouTube,
			class:     models.ErrorClassPermanent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewPublishManager(zap.NewNop())
			require.NoError(t, m.RegisterPublisher(tt.publisher))

			outcome := m.Publish(context.Background(), tt.platform, PublishContent{JobID: "job-1"})
			assert.Equal(t, tt.success, outcome.Succeeded())
			assert.Equal(t, tt.class, outcome.Class)
			if !tt.success {
				assert.Error(t, outcome.Err)
			}
		})
	}
}

func TestPublishCustomClassifier(t *testing.T) {
	m := NewPublishManager(zap.NewNop(), WithClassifier(func(models.Platform, error) models.ErrorClass {
		return models.ErrorClassPermanent
	}))
	require.NoError(t, m.RegisterPublisher(fixed(models.PlatformTikTok, nil, errors.New("whatever"))))

	outcome := m.Publish(context.Background(), models.PlatformTikTok, PublishContent{})
	assert.Equal(t, models.ErrorClassPermanent, outcome.Class)
}

func TestPublishTimeoutIsTransient(t *testing.T) {
	m := NewPublishManager(zap.NewNop(), WithTimeout(20*time.Millisecond))
	require.NoError(t, m.RegisterPublisher(PublisherFunc{Platform: models.PlatformYouTube, Fn: func(ctx context.Context, _ PublishContent) (*PublishResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}))

	outcome := m.Publish(context.Background(), models.PlatformYouTube, PublishContent{})
	assert.False(t, outcome.Succeeded())
	assert.ErrorIs(t, outcome.Err, context.DeadlineExceeded)
	assert.Equal(t, models.ErrorClassTransient, outcome.Class)
}

func TestPublishTimeoutBoundsUncooperativePublisher(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	m := NewPublishManager(zap.NewNop(), WithTimeout(50*time.Millisecond))
	require.NoError(t, m.RegisterPublisher(PublisherFunc{Platform: models.PlatformTikTok, Fn: func(context.Context, PublishContent) (*PublishResult, error) {
		<-release
		return &PublishResult{Success: true}, nil
	}}))
	require.NoError(t, m.RegisterPublisher(PublisherFunc{Platform: models.PlatformInstagram, Fn: func(context.Context, PublishContent) (*PublishResult, error) {
		return &PublishResult{Success: true, PublishID: "ig-1"}, nil
	}}))

	start := time.Now()
	outcomes := m.PublishToPlatforms(context.Background(), PublishContent{JobID: "job-1"},
		[]models.Platform{models.PlatformTikTok, models.PlatformInstagram})
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 500*time.Millisecond)
	require.Len(t, outcomes, 2)
	assert.False(t, outcomes[0].Succeeded())
	assert.ErrorIs(t, outcomes[0].Err, context.DeadlineExceeded)
	assert.Equal(t, models.ErrorClassTransient, outcomes[0].Class)
	assert.True(t, outcomes[1].Succeeded())
}

func TestPublishToPlatformsBoundedFanOut(t *testing.T) {
	var inFlight, peak int32
	slow := func(platform models.Platform) Publisher {
		return PublisherFunc{Platform: platform, Fn: func(context.Context, PublishContent) (*PublishResult, error) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			if platform == models.PlatformTwitter {
				return nil, fmt.Errorf("twitter down")
			}
			return &PublishResult{Success: true, PublishID: string(platform)}, nil
		}}
	}

	m := NewPublishManager(zap.NewNop(), WithConcurrency(2))
	for _, p := range models.AllPlatforms {
		require.NoError(t, m.RegisterPublisher(slow(p)))
	}

	outcomes := m.PublishToPlatforms(context.Background(), PublishContent{JobID: "job-1"}, models.AllPlatforms)

	require.Len(t, outcomes, len(models.AllPlatforms))
	for i, o := range outcomes {
		assert.Equal(t, models.AllPlatforms[i], o.Platform)
		assert.Equal(t, o.Platform != models.PlatformTwitter, o.Succeeded())
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}
