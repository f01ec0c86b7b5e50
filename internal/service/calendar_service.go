package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/cadence/internal/models"
	"github.com/ifuryst/cadence/internal/service/calendar"
	"github.com/ifuryst/cadence/internal/service/campaign"
	"github.com/ifuryst/cadence/pkg/util"
)

// CalendarQuery selects a calendar view. Start and End accept a day key or a
// full instant and are read in Timezone.
type CalendarQuery struct {
	Start      string
	End        string
	Timezone   string
	CampaignID string
	Platform   string
}

// CalendarView is a computed calendar, ready to render
type CalendarView struct {
	Timezone string                          `json:"timezone"`
	Start    time.Time                       `json:"start"`
	End      time.Time                       `json:"end"`
	Days     []*calendar.Entry               `json:"days"`
	Skipped  []*models.AggregationInputError `json:"-"`
}

// CalendarService reads jobs and campaign launches and aggregates them on
// every call; nothing is cached
type CalendarService struct {
	jobs      *JobService
	campaigns *campaign.Source
	logger    *zap.Logger
	timezone  string
}

func NewCalendarService(jobs *JobService, campaigns *campaign.Source, timezone string, logger *zap.Logger) *CalendarService {
	return &CalendarService{
		jobs:      jobs,
		campaigns: campaigns,
		logger:    logger,
		timezone:  timezone,
	}
}

func (s *CalendarService) Build(ctx context.Context, q CalendarQuery) (*CalendarView, error) {
	tz := q.Timezone
	if tz == "" {
		tz = s.timezone
	}
	loc, err := util.LoadLocation(tz)
	if err != nil {
		return nil, &models.ValidationError{Field: "tz", Reason: err.Error()}
	}

	start, err := util.ParseRangeBound(q.Start, loc, false)
	if err != nil {
		return nil, &models.ValidationError{Field: "start", Reason: err.Error()}
	}
	end, err := util.ParseRangeBound(q.End, loc, true)
	if err != nil {
		return nil, &models.ValidationError{Field: "end", Reason: err.Error()}
	}

	platform := strings.ToLower(strings.TrimSpace(q.Platform))
	if platform != "" && platform != calendar.FilterAll {
		if _, err := models.ParsePlatform(platform); err != nil {
			return nil, &models.ValidationError{Field: "platform", Reason: err.Error()}
		}
	}

	jobs, err := s.jobs.QueryByDateRange(ctx, start, end)
	if err != nil {
		return nil, err
	}

	var events []calendar.CampaignEvent
	var skipped []*models.AggregationInputError
	if s.campaigns != nil {
		all, sourceSkipped, err := s.campaigns.Events(ctx)
		if err != nil {
			// jobs still render without the campaign overlay
			s.logger.Error("Failed to load campaign events", zap.Error(err))
		}
		skipped = append(skipped, sourceSkipped...)
		for _, ev := range all {
			if ev.LaunchInstant.Before(start) || ev.LaunchInstant.After(end) {
				continue
			}
			events = append(events, ev)
		}
	}

	result := calendar.Aggregate(jobs, events, calendar.Filter{
		CampaignID: strings.TrimSpace(q.CampaignID),
		Platform:   platform,
		Location:   loc,
	})
	for _, e := range result.Skipped {
		s.logger.Warn("Skipped calendar input", zap.String("kind", e.Kind), zap.String("id", e.ID), zap.String("reason", e.Reason))
	}
	skipped = append(skipped, result.Skipped...)

	return &CalendarView{
		Timezone: loc.String(),
		Start:    start,
		End:      end,
		Days:     result.Entries(),
		Skipped:  skipped,
	}, nil
}
