package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifuryst/cadence/internal/models"
)

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func ptrTime(t time.Time) *time.Time {
	return &t
}

func job(id, when string, status models.JobStatus, platforms ...string) *models.PublishingJob {
	return &models.PublishingJob{
		ID:           id,
		Caption:      "Caption for " + id + "\nsecond line",
		Platforms:    models.StringArray(platforms),
		ScheduleTime: at(when),
		Status:       status,
	}
}

func TestAggregateJobAndLaunchSameDay(t *testing.T) {
	j := job("job-1", "2024-01-15T09:00:00Z", models.StatusScheduled, "tiktok")
	j.CampaignID = models.StringPtr("camp-1")
	events := []CampaignEvent{{
		CampaignID:    "camp-1",
		CampaignName:  "Winter launch",
		LaunchInstant: ptrTime(at("2024-01-15T14:00:00Z")),
	}}

	result := Aggregate([]*models.PublishingJob{j}, events, Filter{})

	require.Equal(t, []string{"2024-01-15"}, result.DayKeys())
	day := result.Days["2024-01-15"]
	require.Len(t, day.Events, 2)
	assert.Equal(t, KindJob, day.Events[0].Kind)
	assert.Equal(t, "09:00", day.Events[0].TimeOfDay)
	assert.Equal(t, "Caption for job-1", day.Events[0].Title)
	assert.Equal(t, "blue", day.Events[0].Color)
	assert.Equal(t, KindCampaign, day.Events[1].Kind)
	assert.Equal(t, "14:00", day.Events[1].TimeOfDay)
	assert.Equal(t, "Winter launch", day.Events[1].Title)
	assert.Empty(t, result.Skipped)
}

func TestAggregateIsPure(t *testing.T) {
	jobs := []*models.PublishingJob{
		job("a", "2024-01-15T09:00:00Z", models.StatusPosted, "tiktok"),
		job("b", "2024-01-16T10:30:00Z", models.StatusFailed, "youtube"),
		job("c", "2024-01-15T09:00:00Z", models.StatusScheduled, "instagram"),
	}
	events := []CampaignEvent{
		{CampaignID: "camp-1", CampaignName: "Launch", LaunchInstant: ptrTime(at("2024-01-16T08:00:00Z"))},
	}

	first := Aggregate(jobs, events, Filter{CampaignID: FilterAll, Platform: FilterAll})
	second := Aggregate(jobs, events, Filter{CampaignID: FilterAll, Platform: FilterAll})

	assert.Equal(t, first, second)
	assert.Equal(t, "09:00", jobs[0].ScheduleTime.Format("15:04"), "inputs are not modified")
}

func TestAggregateExcludesCancelled(t *testing.T) {
	jobs := []*models.PublishingJob{
		job("kept", "2024-01-15T09:00:00Z", models.StatusScheduled, "tiktok"),
		job("gone", "2024-01-15T10:00:00Z", models.StatusCancelled, "tiktok"),
	}

	result := Aggregate(jobs, nil, Filter{})

	require.Len(t, result.Days["2024-01-15"].Events, 1)
	assert.Equal(t, "kept", result.Days["2024-01-15"].Events[0].JobID)
}

func TestAggregateBucketsInReportingZone(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	jobs := []*models.PublishingJob{job("late", "2024-01-15T23:30:00Z", models.StatusScheduled, "tiktok")}

	utc := Aggregate(jobs, nil, Filter{})
	assert.Equal(t, []string{"2024-01-15"}, utc.DayKeys())

	local := Aggregate(jobs, nil, Filter{Location: tokyo})
	assert.Equal(t, []string{"2024-01-16"}, local.DayKeys())
	assert.Equal(t, "08:30", local.Days["2024-01-16"].Events[0].TimeOfDay)
}

func TestAggregateOrdering(t *testing.T) {
	jobs := []*models.PublishingJob{
		job("noon", "2024-01-15T12:00:00Z", models.StatusScheduled, "tiktok"),
		job("nine-a", "2024-01-15T09:00:40Z", models.StatusScheduled, "tiktok"),
		job("nine-b", "2024-01-15T09:00:10Z", models.StatusScheduled, "tiktok"),
	}
	events := []CampaignEvent{
		{CampaignID: "camp-1", CampaignName: "Launch", LaunchInstant: ptrTime(at("2024-01-15T09:00:00Z"))},
	}

	result := Aggregate(jobs, events, Filter{})

	var order []string
	for _, ev := range result.Days["2024-01-15"].Events {
		if ev.Kind == KindCampaign {
			order = append(order, ev.CampaignID)
			continue
		}
		order = append(order, ev.JobID)
	}
	// same HH:MM keeps discovery order: launches first, then jobs as given
	assert.Equal(t, []string{"camp-1", "nine-a", "nine-b", "noon"}, order)
}

func TestAggregateFilters(t *testing.T) {
	tagged := job("tagged", "2024-01-15T09:00:00Z", models.StatusScheduled, "tiktok", "instagram")
	tagged.CampaignID = models.StringPtr("camp-1")
	other := job("other", "2024-01-15T10:00:00Z", models.StatusScheduled, "youtube")
	other.CampaignID = models.StringPtr("camp-2")
	loose := job("loose", "2024-01-15T11:00:00Z", models.StatusScheduled, "instagram")
	jobs := []*models.PublishingJob{tagged, other, loose}
	events := []CampaignEvent{
		{CampaignID: "camp-1", CampaignName: "One", LaunchInstant: ptrTime(at("2024-01-15T15:00:00Z"))},
		{CampaignID: "camp-2", CampaignName: "Two", LaunchInstant: ptrTime(at("2024-01-15T16:00:00Z"))},
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{name: "all", filter: Filter{CampaignID: FilterAll}, want: []string{"tagged", "other", "loose", "camp-1", "camp-2"}},
		{name: "campaign", filter: Filter{CampaignID: "camp-1"}, want: []string{"tagged", "camp-1"}},
		{name: "platform", filter: Filter{Platform: "instagram"}, want: []string{"tagged", "loose", "camp-1", "camp-2"}},
		{name: "both", filter: Filter{CampaignID: "camp-2", Platform: "instagram"}, want: []string{"camp-2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Aggregate(jobs, events, tt.filter)
			var got []string
			for _, ev := range result.Days["2024-01-15"].Events {
				if ev.Kind == KindCampaign {
					got = append(got, ev.CampaignID)
				} else {
					got = append(got, ev.JobID)
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAggregateSkipsMalformedInput(t *testing.T) {
	broken := job("broken", "2024-01-15T09:00:00Z", models.StatusScheduled, "tiktok")
	broken.ScheduleTime = time.Time{}
	unknown := job("unknown", "2024-01-15T09:00:00Z", models.JobStatus("archived"), "tiktok")
	good := job("good", "2024-01-15T09:00:00Z", models.StatusFailed, "tiktok")
	good.LastErrorMessage = models.StringPtr("rate limited")
	good.RetryCount = 3
	good.BoostEnabled = true

	events := []CampaignEvent{
		{CampaignID: "no-launch", CampaignName: "Draft"},
		{CampaignName: "Orphan", LaunchInstant: ptrTime(at("2024-01-15T10:00:00Z"))},
		{CampaignID: "zero", CampaignName: "Zero", LaunchInstant: &time.Time{}},
	}

	result := Aggregate([]*models.PublishingJob{broken, nil, unknown, good}, events, Filter{})

	require.Len(t, result.Skipped, 4)
	require.Len(t, result.Days["2024-01-15"].Events, 1)
	ev := result.Days["2024-01-15"].Events[0]
	assert.Equal(t, "good", ev.JobID)
	assert.Equal(t, "red", ev.Color)
	assert.True(t, ev.Boosted)
	assert.Equal(t, 3, ev.RetryCount)
	assert.Equal(t, "rate limited", *ev.LastErrorMessage)
	assert.Equal(t, []models.Platform{models.PlatformTikTok}, ev.Platforms)
}
