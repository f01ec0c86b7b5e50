package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/ifuryst/cadence/internal/config"
	"github.com/ifuryst/cadence/internal/models"
)

// NewDatabase opens the configured database and migrates the schema
func NewDatabase(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "postgres":
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s",
			cfg.Host, cfg.Username, cfg.Password, cfg.Database, cfg.Port, cfg.SSLMode, cfg.TimeZone)
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(cfg.Database)
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Type == "sqlite" {
		// sqlite allows a single writer
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates or updates the schema
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.PublishingJob{},
		&models.DispatchAttempt{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// GormStore is the durable Store
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, job *models.PublishingJob) error {
	normalize(job)
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*models.PublishingJob, error) {
	return s.get(s.db.WithContext(ctx), id)
}

func (s *GormStore) get(db *gorm.DB, id string) (*models.PublishingJob, error) {
	var job models.PublishingJob
	if err := db.Where("id = ?", id).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (s *GormStore) Transition(ctx context.Context, id, action string, from []models.JobStatus, mutate MutateFunc) (*models.PublishingJob, error) {
	var out *models.PublishingJob

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		job, err := s.get(forUpdate(tx), id)
		if err != nil {
			return err
		}
		if !statusIn(job.Status, from) {
			return &models.InvalidTransitionError{JobID: id, From: job.Status, Action: action}
		}

		observed := job.Status
		if err := mutate(job); err != nil {
			if errors.Is(err, ErrNoChange) {
				out = job
				return nil
			}
			return err
		}
		normalize(job)
		job.UpdatedAt = time.Now().UTC()

		// The status guard makes this a compare-and-swap
		result := tx.Model(&models.PublishingJob{}).
			Where("id = ? AND status = ?", id, observed).
			Updates(mutableColumns(job))
		if result.Error != nil {
			return fmt.Errorf("failed to update job: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			current, err := s.get(tx, id)
			if err != nil {
				return err
			}
			return &models.InvalidTransitionError{JobID: id, From: current.Status, Action: action}
		}

		out = job
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// forUpdate row-locks the read on dialects that support it. sqlite serialises
// writers on its own.
func forUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector.Name() == "postgres" {
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

func (s *GormStore) Purge(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND status <> ?", id, models.StatusProcessing).Delete(&models.PublishingJob{})
		if result.Error != nil {
			return fmt.Errorf("failed to purge job: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			job, err := s.get(tx, id)
			if err != nil {
				return err
			}
			return &models.InvalidTransitionError{JobID: id, From: job.Status, Action: "purge"}
		}

		if err := tx.Where("job_id = ?", id).Delete(&models.DispatchAttempt{}).Error; err != nil {
			return fmt.Errorf("failed to purge attempts: %w", err)
		}
		return nil
	})
}

func (s *GormStore) QueryDueBefore(ctx context.Context, instant time.Time, limit int) ([]*models.PublishingJob, error) {
	query := s.db.WithContext(ctx).
		Where("status = ? AND schedule_time <= ?", models.StatusScheduled, instant.UTC()).
		Order("schedule_time ASC").
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var jobs []*models.PublishingJob
	if err := query.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to query due jobs: %w", err)
	}
	return jobs, nil
}

func (s *GormStore) QueryByDateRange(ctx context.Context, start, end time.Time) ([]*models.PublishingJob, error) {
	var jobs []*models.PublishingJob
	err := s.db.WithContext(ctx).
		Where("schedule_time >= ? AND schedule_time <= ?", start.UTC(), end.UTC()).
		Order("schedule_time ASC").
		Order("created_at ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs by range: %w", err)
	}
	return jobs, nil
}

func (s *GormStore) QueryStaleProcessing(ctx context.Context, claimedBefore time.Time) ([]*models.PublishingJob, error) {
	var jobs []*models.PublishingJob
	err := s.db.WithContext(ctx).
		Where("status = ? AND claimed_at <= ?", models.StatusProcessing, claimedBefore.UTC()).
		Order("claimed_at ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query stale jobs: %w", err)
	}
	return jobs, nil
}

func (s *GormStore) CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error) {
	var rows []struct {
		Status models.JobStatus
		Count  int64
	}
	err := s.db.WithContext(ctx).
		Model(&models.PublishingJob{}).
		Select("status, count(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	counts := make(map[models.JobStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (s *GormStore) CountActiveBoosts(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.PublishingJob{}).
		Where("boost_enabled = ? AND status IN ?", true, []models.JobStatus{models.StatusScheduled, models.StatusProcessing}).
		Count(&count).Error
	return count, err
}

func (s *GormStore) CountPostedSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.PublishingJob{}).
		Where("status = ? AND posted_at >= ?", models.StatusPosted, since.UTC()).
		Count(&count).Error
	return count, err
}

func (s *GormStore) RecordAttempts(ctx context.Context, attempts []*models.DispatchAttempt) error {
	if len(attempts) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&attempts).Error; err != nil {
		return fmt.Errorf("failed to record attempts: %w", err)
	}
	return nil
}

func (s *GormStore) ListAttempts(ctx context.Context, jobID string) ([]*models.DispatchAttempt, error) {
	var attempts []*models.DispatchAttempt
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("attempt ASC").
		Order("platform ASC").
		Find(&attempts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	return attempts, nil
}

func mutableColumns(job *models.PublishingJob) map[string]interface{} {
	return map[string]interface{}{
		"caption":            job.Caption,
		"media_refs":         job.MediaRefs,
		"platforms":          job.Platforms,
		"schedule_time":      job.ScheduleTime,
		"campaign_id":        job.CampaignID,
		"boost_enabled":      job.BoostEnabled,
		"status":             job.Status,
		"retry_count":        job.RetryCount,
		"retry_floor":        job.RetryFloor,
		"last_error_message": job.LastErrorMessage,
		"auto_generated":     job.AutoGenerated,
		"claimed_at":         job.ClaimedAt,
		"posted_at":          job.PostedAt,
		"updated_at":         job.UpdatedAt,
	}
}
