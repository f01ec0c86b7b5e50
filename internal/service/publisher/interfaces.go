package publisher

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/ifuryst/cadence/internal/models"
)

// PublishContent represents the content to be published
type PublishContent struct {
	JobID     string   `json:"job_id"`
	Caption   string   `json:"caption"`
	MediaRefs []string `json:"media_refs"`
	Boost     bool     `json:"boost"`
	Attempt   int      `json:"attempt"`
}

// PublishResult represents the result of a publish operation
type PublishResult struct {
	Success     bool              `json:"success"`
	PublishID   string            `json:"publish_id,omitempty"`
	Reach       *int64            `json:"reach,omitempty"`
	ErrorClass  models.ErrorClass `json:"error_class,omitempty"`
	Error       error             `json:"-"`
	PublishedAt time.Time         `json:"published_at"`
}

// Publisher publishes content to one platform. A returned error and a result
// with Success=false are both failures; the error class decides whether the
// dispatcher may retry.
type Publisher interface {
	GetPlatformName() models.Platform
	Publish(ctx context.Context, content PublishContent) (*PublishResult, error)
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc struct {
	Platform models.Platform
	Fn       func(ctx context.Context, content PublishContent) (*PublishResult, error)
}

func (p PublisherFunc) GetPlatformName() models.Platform {
	return p.Platform
}

func (p PublisherFunc) Publish(ctx context.Context, content PublishContent) (*PublishResult, error) {
	return p.Fn(ctx, content)
}

// Classifier maps a publish failure to transient or permanent
type Classifier func(platform models.Platform, err error) models.ErrorClass

// DefaultClassifier trusts typed dispatch errors and treats timeouts and
// anything unrecognised as transient
func DefaultClassifier(_ models.Platform, err error) models.ErrorClass {
	if err == nil {
		return models.ErrorClassNone
	}

	var permanent *models.PermanentDispatchError
	if errors.As(err, &permanent) {
		return models.ErrorClassPermanent
	}
	var transient *models.TransientDispatchError
	if errors.As(err, &transient) {
		return models.ErrorClassTransient
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.ErrorClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.ErrorClassTransient
	}

	return models.ErrorClassTransient
}
