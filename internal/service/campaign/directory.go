// Package campaign reads campaigns from the campaign directory and derives
// the launch events shown on the calendar.
package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/cadence/internal/config"
)

// Campaign is a directory record. LaunchInstant is kept raw; parsing happens
// when events are derived so one bad record cannot fail the whole listing.
type Campaign struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	LaunchInstant string `json:"launch_instant,omitempty"`
	Goal          string `json:"goal,omitempty"`
	CreatedBy     string `json:"created_by,omitempty"`
}

// Directory lists every known campaign
type Directory interface {
	ListCampaigns(ctx context.Context) ([]Campaign, error)
}

// StaticDirectory serves campaigns declared in configuration
type StaticDirectory []Campaign

func NewStaticDirectory(static []config.StaticCampaign) StaticDirectory {
	campaigns := make(StaticDirectory, 0, len(static))
	for _, c := range static {
		campaigns = append(campaigns, Campaign{
			ID:            c.ID,
			Name:          c.Name,
			LaunchInstant: c.LaunchInstant,
			Goal:          c.Goal,
			CreatedBy:     c.CreatedBy,
		})
	}
	return campaigns
}

func (d StaticDirectory) ListCampaigns(_ context.Context) ([]Campaign, error) {
	out := make([]Campaign, len(d))
	copy(out, d)
	return out, nil
}

// HTTPDirectory pages through a remote campaign directory.
// Each page is {"results": [...], "next_cursor": "...", "has_more": bool}.
type HTTPDirectory struct {
	endpoint string
	token    string
	client   *http.Client
	logger   *zap.Logger
}

type listResponse struct {
	Results    []Campaign `json:"results"`
	NextCursor string     `json:"next_cursor"`
	HasMore    bool       `json:"has_more"`
}

const maxPages = 100

func NewHTTPDirectory(endpoint, token string, timeout time.Duration, logger *zap.Logger) *HTTPDirectory {
	return &HTTPDirectory{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

func (d *HTTPDirectory) ListCampaigns(ctx context.Context) ([]Campaign, error) {
	var campaigns []Campaign
	cursor := ""

	for page := 1; ; page++ {
		resp, err := d.listPage(ctx, cursor)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, resp.Results...)

		d.logger.Debug("Retrieved campaign page",
			zap.Int("page_number", page),
			zap.Int("campaigns_in_page", len(resp.Results)),
			zap.Int("total_campaigns", len(campaigns)),
			zap.Bool("has_more", resp.HasMore))

		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		if page >= maxPages {
			d.logger.Warn("Campaign directory page limit reached", zap.Int("pages", page))
			break
		}
		cursor = resp.NextCursor
	}

	return campaigns, nil
}

func (d *HTTPDirectory) listPage(ctx context.Context, cursor string) (*listResponse, error) {
	u, err := url.Parse(d.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid directory url: %w", err)
	}
	if cursor != "" {
		q := u.Query()
		q.Set("start_cursor", cursor)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("campaign directory returned status %d: %s", resp.StatusCode, string(body))
	}

	var out listResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}

// NewDirectory picks the remote directory when a url is configured and the
// static list otherwise
func NewDirectory(cfg *config.CampaignsConfig, logger *zap.Logger) Directory {
	if cfg.DirectoryURL == "" {
		return NewStaticDirectory(cfg.Static)
	}
	return NewHTTPDirectory(cfg.DirectoryURL, cfg.Token, config.Duration(cfg.Timeout, 10*time.Second), logger)
}
