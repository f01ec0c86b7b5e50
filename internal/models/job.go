package models

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a publishing job
type JobStatus string

const (
	StatusScheduled  JobStatus = "scheduled"
	StatusProcessing JobStatus = "processing"
	StatusPosted     JobStatus = "posted"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// ParseStatus validates a raw status value
func ParseStatus(s string) (JobStatus, error) {
	status := JobStatus(s)
	switch status {
	case StatusScheduled, StatusProcessing, StatusPosted, StatusFailed, StatusCancelled:
		return status, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// ContentLocked reports whether caption, platforms and schedule are frozen
func (s JobStatus) ContentLocked() bool {
	switch s {
	case StatusProcessing, StatusPosted:
		return true
	case StatusScheduled, StatusFailed, StatusCancelled:
		return false
	}
	panic(fmt.Sprintf("unhandled job status %q", string(s)))
}

// Terminal reports whether the dispatcher will never touch the job again
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusPosted, StatusCancelled:
		return true
	case StatusScheduled, StatusProcessing, StatusFailed:
		return false
	}
	panic(fmt.Sprintf("unhandled job status %q", string(s)))
}

// Color is the presentation colour for a status. Every consumer uses this
// mapping so the same status never renders differently.
func (s JobStatus) Color() string {
	switch s {
	case StatusScheduled:
		return "blue"
	case StatusProcessing:
		return "amber"
	case StatusPosted:
		return "green"
	case StatusFailed:
		return "red"
	case StatusCancelled:
		return "gray"
	}
	panic(fmt.Sprintf("unhandled job status %q", string(s)))
}

type PublishingJob struct {
	ID               string      `gorm:"primaryKey;size:36" json:"id"`
	Caption          string      `gorm:"type:text;not null" json:"caption"`
	MediaRefs        StringArray `json:"media_refs"`
	Platforms        StringArray `gorm:"not null" json:"platforms"`
	ScheduleTime     time.Time   `gorm:"not null;index" json:"schedule_time"`
	CampaignID       *string     `gorm:"size:100;index" json:"campaign_id,omitempty"`
	BoostEnabled     bool        `gorm:"not null;default:false" json:"boost_enabled"`
	Status           JobStatus   `gorm:"size:20;not null;index;default:'scheduled'" json:"status"`
	RetryCount       int         `gorm:"not null;default:0" json:"retry_count"`
	RetryFloor       int         `gorm:"not null;default:0" json:"-"` // retry_count at the last resubmit
	LastErrorMessage *string     `gorm:"type:text" json:"last_error_message"`
	AutoGenerated    bool        `gorm:"not null;default:false" json:"auto_generated"`
	ClaimedAt        *time.Time  `json:"claimed_at,omitempty"`
	PostedAt         *time.Time  `json:"posted_at,omitempty"`
	CreatedAt        time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PublishingJob) TableName() string {
	return "publishing_jobs"
}

// PlatformList returns the targets as typed platforms, dropping unknown values
func (j *PublishingJob) PlatformList() []Platform {
	platforms := make([]Platform, 0, len(j.Platforms))
	for _, name := range j.Platforms {
		if p := Platform(name); p.Valid() {
			platforms = append(platforms, p)
		}
	}
	return platforms
}

// HasPlatform reports whether the job targets p
func (j *PublishingJob) HasPlatform(p Platform) bool {
	for _, name := range j.Platforms {
		if Platform(name) == p {
			return true
		}
	}
	return false
}

// AttemptsSinceResubmit counts failed attempts charged to the current retry budget
func (j *PublishingJob) AttemptsSinceResubmit() int {
	return j.RetryCount - j.RetryFloor
}

// Clone returns a deep copy
func (j *PublishingJob) Clone() *PublishingJob {
	c := *j
	c.MediaRefs = append(StringArray{}, j.MediaRefs...)
	c.Platforms = append(StringArray{}, j.Platforms...)
	c.CampaignID = cloneString(j.CampaignID)
	c.LastErrorMessage = cloneString(j.LastErrorMessage)
	c.ClaimedAt = cloneTime(j.ClaimedAt)
	c.PostedAt = cloneTime(j.PostedAt)
	return &c
}

// DispatchAttempt records the outcome of one publish call for one platform
type DispatchAttempt struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	JobID        string     `gorm:"size:36;not null;index" json:"job_id"`
	Attempt      int        `gorm:"not null" json:"attempt"`
	Platform     Platform   `gorm:"size:20;not null;index" json:"platform"`
	Success      bool       `gorm:"not null" json:"success"`
	ErrorClass   ErrorClass `gorm:"size:20" json:"error_class,omitempty"`
	ErrorMessage string     `gorm:"type:text" json:"error_message,omitempty"`
	Reach        *int64     `json:"reach,omitempty"`
	PublishID    string     `gorm:"size:255" json:"publish_id,omitempty"`
	DurationMs   int64      `json:"duration_ms"`
	CreatedAt    time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

func (DispatchAttempt) TableName() string {
	return "dispatch_attempts"
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// StringPtr is a small helper for optional text fields
func StringPtr(s string) *string {
	return &s
}
