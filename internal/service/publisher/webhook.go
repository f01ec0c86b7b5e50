package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/cadence/internal/models"
)

// WebhookPublisher posts content to a platform publishing gateway over HTTP.
//
// Response status decides the error class: 408, 429 and 5xx are transient,
// every other non-2xx status is permanent. A 2xx body may still report
// {"success": false, "error_class": "...", "error": "..."}.
type WebhookPublisher struct {
	platform models.Platform
	endpoint string
	token    string
	client   *http.Client
	logger   *zap.Logger
}

type webhookRequest struct {
	Platform  models.Platform `json:"platform"`
	JobID     string          `json:"job_id"`
	Caption   string          `json:"caption"`
	MediaRefs []string        `json:"media_refs"`
	Boost     bool            `json:"boost"`
	Attempt   int             `json:"attempt"`
}

type webhookResponse struct {
	Success    *bool             `json:"success"`
	PublishID  string            `json:"publish_id"`
	Reach      *int64            `json:"reach"`
	ErrorClass models.ErrorClass `json:"error_class"`
	Error      string            `json:"error"`
}

func NewWebhookPublisher(platform models.Platform, endpoint, token string, logger *zap.Logger) *WebhookPublisher {
	return &WebhookPublisher{
		platform: platform,
		endpoint: endpoint,
		token:    token,
		// the manager's context deadline bounds each call
		client: &http.Client{},
		logger: logger,
	}
}

func (p *WebhookPublisher) GetPlatformName() models.Platform {
	return p.platform
}

func (p *WebhookPublisher) Publish(ctx context.Context, content PublishContent) (*PublishResult, error) {
	mediaRefs := content.MediaRefs
	if mediaRefs == nil {
		mediaRefs = []string{}
	}
	body, err := json.Marshal(webhookRequest{
		Platform:  p.platform,
		JobID:     content.JobID,
		Caption:   content.Caption,
		MediaRefs: mediaRefs,
		Boost:     content.Boost,
		Attempt:   content.Attempt,
	})
	if err != nil {
		return nil, &models.PermanentDispatchError{Platform: p.platform, Err: fmt.Errorf("failed to marshal request body: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &models.PermanentDispatchError{Platform: p.platform, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", fmt.Sprintf("%s-%s-%d", content.JobID, p.platform, content.Attempt))
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &models.TransientDispatchError{Platform: p.platform, Err: fmt.Errorf("failed to make request: %w", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &models.TransientDispatchError{Platform: p.platform, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, truncateBody(raw))
		if retryableStatus(resp.StatusCode) {
			return nil, &models.TransientDispatchError{Platform: p.platform, Err: statusErr}
		}
		return nil, &models.PermanentDispatchError{Platform: p.platform, Err: statusErr}
	}

	var decoded webhookResponse
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			p.logger.Warn("Undecodable gateway response",
				zap.String("platform", string(p.platform)),
				zap.Error(err))
		}
	}

	result := &PublishResult{
		Success:     decoded.Success == nil || *decoded.Success,
		PublishID:   decoded.PublishID,
		Reach:       decoded.Reach,
		PublishedAt: time.Now().UTC(),
	}
	if !result.Success {
		result.ErrorClass = decoded.ErrorClass
		msg := decoded.Error
		if msg == "" {
			msg = "gateway reported failure"
		}
		result.Error = fmt.Errorf("%s: %s", p.platform, msg)
	}

	return result, nil
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

func truncateBody(raw []byte) string {
	const max = 256
	if len(raw) > max {
		return string(raw[:max]) + "..."
	}
	return string(raw)
}
