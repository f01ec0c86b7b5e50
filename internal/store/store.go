// Package store holds publishing jobs and their dispatch attempt ledger.
//
// Every status change goes through Transition, a conditional update keyed on
// the job id and the status the caller observed. Two callers racing on the
// same job can never both succeed, which is what makes the dispatcher's claim
// step and a human cancel safe against each other.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ifuryst/cadence/internal/models"
)

// ErrNoChange may be returned by a Transition mutate func to leave the job
// untouched and return it as is
var ErrNoChange = errors.New("no change")

// MutateFunc edits a job in place inside a transition
type MutateFunc func(job *models.PublishingJob) error

type Store interface {
	Create(ctx context.Context, job *models.PublishingJob) error
	Get(ctx context.Context, id string) (*models.PublishingJob, error)

	// Transition applies mutate when the job's current status is one of from.
	// It fails with *models.InvalidTransitionError otherwise, including when a
	// concurrent writer changed the status first.
	Transition(ctx context.Context, id, action string, from []models.JobStatus, mutate MutateFunc) (*models.PublishingJob, error)

	// Purge physically removes a job and its attempts unless it is processing
	Purge(ctx context.Context, id string) error

	QueryDueBefore(ctx context.Context, instant time.Time, limit int) ([]*models.PublishingJob, error)
	QueryByDateRange(ctx context.Context, start, end time.Time) ([]*models.PublishingJob, error)
	QueryStaleProcessing(ctx context.Context, claimedBefore time.Time) ([]*models.PublishingJob, error)

	CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error)
	CountActiveBoosts(ctx context.Context) (int64, error)
	CountPostedSince(ctx context.Context, since time.Time) (int64, error)

	RecordAttempts(ctx context.Context, attempts []*models.DispatchAttempt) error
	ListAttempts(ctx context.Context, jobID string) ([]*models.DispatchAttempt, error)
}

func statusIn(status models.JobStatus, allowed []models.JobStatus) bool {
	for _, s := range allowed {
		if s == status {
			return true
		}
	}
	return false
}

func normalize(job *models.PublishingJob) {
	job.ScheduleTime = job.ScheduleTime.UTC()
	if job.ClaimedAt != nil {
		t := job.ClaimedAt.UTC()
		job.ClaimedAt = &t
	}
	if job.PostedAt != nil {
		t := job.PostedAt.UTC()
		job.PostedAt = &t
	}
	if job.MediaRefs == nil {
		job.MediaRefs = models.StringArray{}
	}
}
