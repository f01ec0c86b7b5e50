package campaign

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ifuryst/cadence/internal/models"
	"github.com/ifuryst/cadence/internal/service/calendar"
	"github.com/ifuryst/cadence/pkg/util"
)

// Source derives campaign launch events from a Directory. It holds no state;
// every call reads the directory again.
type Source struct {
	directory Directory
	logger    *zap.Logger
}

func NewSource(directory Directory, logger *zap.Logger) *Source {
	return &Source{directory: directory, logger: logger}
}

// Events returns one event per campaign with a scheduled launch. Campaigns
// without a launch instant yield nothing. Records with an unparsable instant
// or a duplicate id are skipped, logged and returned alongside the events.
func (s *Source) Events(ctx context.Context) ([]calendar.CampaignEvent, []*models.AggregationInputError, error) {
	campaigns, err := s.directory.ListCampaigns(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list campaigns: %w", err)
	}

	var (
		events  []calendar.CampaignEvent
		skipped []*models.AggregationInputError
		seen    = make(map[string]struct{}, len(campaigns))
	)
	skip := func(id, reason string) {
		e := &models.AggregationInputError{Kind: "campaign", ID: id, Reason: reason}
		skipped = append(skipped, e)
		s.logger.Warn("Skipping campaign", zap.String("campaign_id", id), zap.String("reason", reason))
	}

	for _, c := range campaigns {
		if strings.TrimSpace(c.LaunchInstant) == "" {
			continue
		}
		if c.ID == "" {
			skip(c.Name, "missing campaign id")
			continue
		}
		if _, dup := seen[c.ID]; dup {
			skip(c.ID, "duplicate campaign id")
			continue
		}

		launch, err := util.ParseInstant(c.LaunchInstant)
		if err != nil {
			skip(c.ID, err.Error())
			continue
		}
		seen[c.ID] = struct{}{}

		events = append(events, calendar.CampaignEvent{
			CampaignID:    c.ID,
			CampaignName:  c.Name,
			LaunchInstant: &launch,
			Goal:          c.Goal,
			CreatedBy:     c.CreatedBy,
		})
	}

	return events, skipped, nil
}
