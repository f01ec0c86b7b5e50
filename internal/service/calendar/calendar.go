// Package calendar merges publishing jobs and campaign launches into a
// day-keyed view. Aggregate is a pure function of its arguments.
package calendar

import (
	"sort"
	"time"

	"github.com/ifuryst/cadence/internal/models"
	"github.com/ifuryst/cadence/pkg/util"
)

// Kind tells a calendar event's origin
type Kind string

const (
	KindJob      Kind = "job"
	KindCampaign Kind = "campaign"
)

const (
	// FilterAll disables a filter dimension
	FilterAll = "all"

	campaignStatus = "launch"
	campaignColor  = "purple"
	titleLength    = 60
)

// CampaignEvent is a campaign launch derived from the campaign directory
type CampaignEvent struct {
	CampaignID    string     `json:"campaign_id"`
	CampaignName  string     `json:"campaign_name"`
	LaunchInstant *time.Time `json:"launch_instant,omitempty"`
	Goal          string     `json:"goal,omitempty"`
	CreatedBy     string     `json:"created_by,omitempty"`
}

type Event struct {
	Kind             Kind              `json:"kind"`
	TimeOfDay        string            `json:"time"`
	Instant          time.Time         `json:"instant"`
	Title            string            `json:"title"`
	Status           string            `json:"status"`
	Color            string            `json:"color"`
	Boosted          bool              `json:"boosted"`
	RetryCount       int               `json:"retry_count"`
	LastErrorMessage *string           `json:"last_error_message,omitempty"`
	Platforms        []models.Platform `json:"platforms,omitempty"`
	JobID            string            `json:"job_id,omitempty"`
	CampaignID       string            `json:"campaign_id,omitempty"`
	Goal             string            `json:"goal,omitempty"`
}

// Entry is one calendar day
type Entry struct {
	DayKey string  `json:"day"`
	Events []Event `json:"events"`
}

type Filter struct {
	// CampaignID keeps only events of one campaign; empty or "all" keeps every event
	CampaignID string
	// Platform keeps only jobs targeting it; campaign events always pass
	Platform string
	// Location is the reporting time zone used for day keys; nil means UTC
	Location *time.Location
}

type Result struct {
	Days    map[string]*Entry
	Skipped []*models.AggregationInputError
}

// DayKeys returns the populated days in ascending order
func (r *Result) DayKeys() []string {
	keys := make([]string, 0, len(r.Days))
	for key := range r.Days {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Entries returns the days in ascending order
func (r *Result) Entries() []*Entry {
	entries := make([]*Entry, 0, len(r.Days))
	for _, key := range r.DayKeys() {
		entries = append(entries, r.Days[key])
	}
	return entries
}

// Aggregate builds the calendar. Campaign launches are appended before jobs, so
// at an identical time of day a launch sorts first. Cancelled jobs are left out.
// Malformed records are skipped and reported in Result.Skipped.
func Aggregate(jobs []*models.PublishingJob, events []CampaignEvent, filter Filter) *Result {
	result := &Result{Days: make(map[string]*Entry)}
	loc := filter.Location
	if loc == nil {
		loc = time.UTC
	}

	for _, ev := range events {
		if ev.LaunchInstant == nil {
			continue
		}
		if ev.CampaignID == "" {
			result.skip("campaign", ev.CampaignName, "missing campaign id")
			continue
		}
		if ev.LaunchInstant.IsZero() {
			result.skip("campaign", ev.CampaignID, "zero launch instant")
			continue
		}
		if !matchesCampaign(filter.CampaignID, ev.CampaignID) {
			continue
		}

		at := *ev.LaunchInstant
		result.add(util.DayKey(at, loc), Event{
			Kind:       KindCampaign,
			TimeOfDay:  util.TimeOfDay(at, loc),
			Instant:    at.UTC(),
			Title:      ev.CampaignName,
			Status:     campaignStatus,
			Color:      campaignColor,
			CampaignID: ev.CampaignID,
			Goal:       ev.Goal,
		})
	}

	for _, job := range jobs {
		if job == nil {
			continue
		}
		status, err := models.ParseStatus(string(job.Status))
		if err != nil {
			result.skip("job", job.ID, err.Error())
			continue
		}
		if status == models.StatusCancelled {
			continue
		}
		if job.ScheduleTime.IsZero() {
			result.skip("job", job.ID, "zero schedule time")
			continue
		}

		campaignID := ""
		if job.CampaignID != nil {
			campaignID = *job.CampaignID
		}
		if !matchesCampaign(filter.CampaignID, campaignID) {
			continue
		}
		if !matchesPlatform(filter.Platform, job) {
			continue
		}

		at := job.ScheduleTime
		result.add(util.DayKey(at, loc), Event{
			Kind:             KindJob,
			TimeOfDay:        util.TimeOfDay(at, loc),
			Instant:          at.UTC(),
			Title:            util.Truncate(util.FirstLine(job.Caption), titleLength),
			Status:           string(status),
			Color:            status.Color(),
			Boosted:          job.BoostEnabled,
			RetryCount:       job.RetryCount,
			LastErrorMessage: job.LastErrorMessage,
			Platforms:        job.PlatformList(),
			JobID:            job.ID,
			CampaignID:       campaignID,
		})
	}

	for _, entry := range result.Days {
		sort.SliceStable(entry.Events, func(i, j int) bool {
			return entry.Events[i].TimeOfDay < entry.Events[j].TimeOfDay
		})
	}

	return result
}

func (r *Result) add(dayKey string, ev Event) {
	entry, ok := r.Days[dayKey]
	if !ok {
		entry = &Entry{DayKey: dayKey}
		r.Days[dayKey] = entry
	}
	entry.Events = append(entry.Events, ev)
}

func (r *Result) skip(kind, id, reason string) {
	r.Skipped = append(r.Skipped, &models.AggregationInputError{Kind: kind, ID: id, Reason: reason})
}

func matchesCampaign(filter, campaignID string) bool {
	if filter == "" || filter == FilterAll {
		return true
	}
	return campaignID == filter
}

func matchesPlatform(filter string, job *models.PublishingJob) bool {
	if filter == "" || filter == FilterAll {
		return true
	}
	return job.HasPlatform(models.Platform(filter))
}
