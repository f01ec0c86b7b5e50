package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ifuryst/cadence/internal/models"
	"github.com/ifuryst/cadence/internal/store"
	"github.com/ifuryst/cadence/pkg/util"
)

// JobSpec is the input for creating a publishing job
type JobSpec struct {
	Caption       string   `json:"caption" validate:"notblank,max=2200"`
	MediaRefs     []string `json:"media_refs" validate:"dive,required"`
	Platforms     []string `json:"platforms" validate:"required,min=1,unique,dive,platform"`
	ScheduleTime  string   `json:"schedule_time" validate:"required"`
	CampaignID    *string  `json:"campaign_id"`
	BoostEnabled  bool     `json:"boost_enabled"`
	AutoGenerated bool     `json:"auto_generated"`
}

// JobPatch is a partial update. Nil fields are left unchanged; an empty
// CampaignID clears the campaign.
type JobPatch struct {
	Caption      *string  `json:"caption" validate:"omitempty,notblank,max=2200"`
	MediaRefs    []string `json:"media_refs" validate:"omitempty,dive,required"`
	Platforms    []string `json:"platforms" validate:"omitempty,unique,dive,platform"`
	ScheduleTime *string  `json:"schedule_time"`
	CampaignID   *string  `json:"campaign_id"`
	BoostEnabled *bool    `json:"boost_enabled"`
}

func (p *JobPatch) touchesContent() bool {
	return p.Caption != nil || p.MediaRefs != nil || p.Platforms != nil || p.ScheduleTime != nil
}

func (p *JobPatch) empty() bool {
	return !p.touchesContent() && p.CampaignID == nil && p.BoostEnabled == nil
}

// JobService owns the job lifecycle operations a human or producer may invoke
type JobService struct {
	store    store.Store
	logger   *zap.Logger
	validate *validator.Validate
	now      func() time.Time
}

func NewJobService(st store.Store, logger *zap.Logger) *JobService {
	return &JobService{
		store:    st,
		logger:   logger,
		validate: newValidator(),
		now:      time.Now,
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("platform", func(fl validator.FieldLevel) bool {
		return models.Platform(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// Create validates spec and stores a new scheduled job
func (s *JobService) Create(ctx context.Context, spec JobSpec) (*models.PublishingJob, error) {
	spec.Platforms = normalizePlatforms(spec.Platforms)
	if err := s.check(spec); err != nil {
		return nil, err
	}
	scheduleTime, err := parseScheduleTime(spec.ScheduleTime)
	if err != nil {
		return nil, err
	}

	job := &models.PublishingJob{
		ID:            uuid.NewString(),
		Caption:       spec.Caption,
		MediaRefs:     models.StringArray(spec.MediaRefs),
		Platforms:     models.StringArray(spec.Platforms),
		ScheduleTime:  scheduleTime,
		CampaignID:    normalizeCampaign(spec.CampaignID),
		BoostEnabled:  spec.BoostEnabled,
		Status:        models.StatusScheduled,
		AutoGenerated: spec.AutoGenerated,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("Job created",
		zap.String("job_id", job.ID),
		zap.Strings("platforms", spec.Platforms),
		zap.Time("schedule_time", job.ScheduleTime),
		zap.Bool("auto_generated", job.AutoGenerated))

	return job, nil
}

// Update applies patch. Caption, media, platforms and schedule are frozen once
// the job is processing or posted. Any update to a failed job resubmits it
// with a fresh retry budget.
func (s *JobService) Update(ctx context.Context, id string, patch JobPatch) (*models.PublishingJob, error) {
	if patch.Platforms != nil {
		if len(patch.Platforms) == 0 {
			return nil, &models.ValidationError{Field: "platforms", Reason: "must not be empty"}
		}
		patch.Platforms = normalizePlatforms(patch.Platforms)
	}
	if err := s.check(patch); err != nil {
		return nil, err
	}

	var scheduleTime time.Time
	if patch.ScheduleTime != nil {
		t, err := parseScheduleTime(*patch.ScheduleTime)
		if err != nil {
			return nil, err
		}
		scheduleTime = t
	}

	allStatuses := []models.JobStatus{
		models.StatusScheduled, models.StatusProcessing, models.StatusPosted,
		models.StatusFailed, models.StatusCancelled,
	}

	job, err := s.store.Transition(ctx, id, "update", allStatuses, func(job *models.PublishingJob) error {
		if patch.empty() {
			return store.ErrNoChange
		}
		if patch.touchesContent() && job.Status.ContentLocked() {
			return &models.InvalidTransitionError{JobID: job.ID, From: job.Status, Action: "edit content of"}
		}

		if patch.Caption != nil {
			job.Caption = *patch.Caption
		}
		if patch.MediaRefs != nil {
			job.MediaRefs = models.StringArray(patch.MediaRefs)
		}
		if patch.Platforms != nil {
			job.Platforms = models.StringArray(patch.Platforms)
		}
		if patch.ScheduleTime != nil {
			job.ScheduleTime = scheduleTime
		}
		if patch.CampaignID != nil {
			job.CampaignID = normalizeCampaign(patch.CampaignID)
		}
		if patch.BoostEnabled != nil {
			job.BoostEnabled = *patch.BoostEnabled
		}

		if job.Status == models.StatusFailed {
			resubmit(job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Job updated", zap.String("job_id", id), zap.String("status", string(job.Status)))
	return job, nil
}

// Cancel moves a scheduled job to cancelled. Cancelling a cancelled job is a
// no-op; every other status is rejected.
func (s *JobService) Cancel(ctx context.Context, id string) (*models.PublishingJob, error) {
	from := []models.JobStatus{models.StatusScheduled, models.StatusCancelled}
	job, err := s.store.Transition(ctx, id, "cancel", from, func(job *models.PublishingJob) error {
		if job.Status == models.StatusCancelled {
			return store.ErrNoChange
		}
		job.Status = models.StatusCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Job cancelled", zap.String("job_id", id))
	return job, nil
}

// Retry resubmits a failed job for immediate dispatch with a fresh retry budget
func (s *JobService) Retry(ctx context.Context, id string) (*models.PublishingJob, error) {
	now := s.now().UTC()
	job, err := s.store.Transition(ctx, id, "retry", []models.JobStatus{models.StatusFailed}, func(job *models.PublishingJob) error {
		resubmit(job)
		job.ScheduleTime = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Job resubmitted",
		zap.String("job_id", id),
		zap.Int("retry_count", job.RetryCount))
	return job, nil
}

// Delete cancels the job, keeping it for audit, or removes it with its
// attempt history when purge is set
func (s *JobService) Delete(ctx context.Context, id string, purge bool) error {
	if !purge {
		_, err := s.Cancel(ctx, id)
		return err
	}

	if err := s.store.Purge(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Job purged", zap.String("job_id", id))
	return nil
}

func (s *JobService) Get(ctx context.Context, id string) (*models.PublishingJob, error) {
	return s.store.Get(ctx, id)
}

// QueryByDateRange returns jobs of any status scheduled within [start, end]
func (s *JobService) QueryByDateRange(ctx context.Context, start, end time.Time) ([]*models.PublishingJob, error) {
	if end.Before(start) {
		return nil, &models.ValidationError{Field: "end", Reason: "must not be before start"}
	}
	return s.store.QueryByDateRange(ctx, start, end)
}

// QueryDueBefore returns scheduled jobs whose schedule time is at or before instant
func (s *JobService) QueryDueBefore(ctx context.Context, instant time.Time) ([]*models.PublishingJob, error) {
	return s.store.QueryDueBefore(ctx, instant, 0)
}

func (s *JobService) ListAttempts(ctx context.Context, id string) ([]*models.DispatchAttempt, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListAttempts(ctx, id)
}

func (s *JobService) check(v interface{}) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &models.ValidationError{Field: "job", Reason: err.Error()}
	}
	return validationError(verrs[0])
}

func validationError(fe validator.FieldError) *models.ValidationError {
	field := fe.Field()
	if i := strings.IndexByte(field, '['); i >= 0 {
		field = field[:i]
	}

	switch fe.Tag() {
	case "required":
		if field == "media_refs" {
			return &models.ValidationError{Field: field, Reason: "entries must not be empty"}
		}
		return &models.ValidationError{Field: field, Reason: "is required"}
	case "notblank":
		return &models.ValidationError{Field: field, Reason: "must not be empty"}
	case "max":
		return &models.ValidationError{Field: field, Reason: fmt.Sprintf("must be at most %s characters", fe.Param())}
	case "min":
		return &models.ValidationError{Field: field, Reason: "must not be empty"}
	case "unique":
		return &models.ValidationError{Field: field, Reason: "must not contain duplicates"}
	case "platform":
		return &models.ValidationError{Field: field, Reason: fmt.Sprintf("unknown platform %q", fe.Value())}
	default:
		return &models.ValidationError{Field: field, Reason: fmt.Sprintf("failed %s check", fe.Tag())}
	}
}

func parseScheduleTime(raw string) (time.Time, error) {
	t, err := util.ParseInstant(raw)
	if err != nil {
		return time.Time{}, &models.ValidationError{Field: "schedule_time", Reason: err.Error()}
	}
	return t, nil
}

func normalizePlatforms(platforms []string) []string {
	if platforms == nil {
		return nil
	}
	out := make([]string, len(platforms))
	for i, p := range platforms {
		out[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return out
}

func normalizeCampaign(id *string) *string {
	if id == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*id)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// resubmit opens a fresh retry budget without rewinding retry_count
func resubmit(job *models.PublishingJob) {
	job.Status = models.StatusScheduled
	job.RetryFloor = job.RetryCount
	job.ClaimedAt = nil
}
