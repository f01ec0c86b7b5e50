package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ifuryst/cadence/internal/models"
	"github.com/ifuryst/cadence/internal/service/publisher"
	"github.com/ifuryst/cadence/internal/store"
	"github.com/ifuryst/cadence/pkg/util"
)

const maxErrorMessageLength = 1000

// MonitoringService keeps the per-platform dispatch attempt ledger
type MonitoringService struct {
	store  store.Store
	logger *zap.Logger
}

func NewMonitoringService(st store.Store, logger *zap.Logger) *MonitoringService {
	return &MonitoringService{
		store:  st,
		logger: logger,
	}
}

// RecordOutcomes stores one ledger row per platform for a dispatch attempt.
// Partial successes are kept here even though the job itself fails.
func (m *MonitoringService) RecordOutcomes(ctx context.Context, jobID string, attempt int, outcomes []publisher.Outcome) error {
	now := time.Now().UTC()
	rows := make([]*models.DispatchAttempt, 0, len(outcomes))

	for _, o := range outcomes {
		row := &models.DispatchAttempt{
			ID:         uuid.NewString(),
			JobID:      jobID,
			Attempt:    attempt,
			Platform:   o.Platform,
			Success:    o.Succeeded(),
			ErrorClass: o.Class,
			DurationMs: o.Duration.Milliseconds(),
			CreatedAt:  now,
		}
		if o.Err != nil {
			row.ErrorMessage = util.Truncate(o.Err.Error(), maxErrorMessageLength)
		}
		if o.Result != nil {
			row.PublishID = o.Result.PublishID
			row.Reach = o.Result.Reach
		}
		rows = append(rows, row)

		result := "success"
		if !row.Success {
			result = string(o.Class)
		}
		dispatchAttemptsTotal.WithLabelValues(string(o.Platform), result).Inc()
	}

	if err := m.store.RecordAttempts(ctx, rows); err != nil {
		m.logger.Error("Failed to record dispatch attempts",
			zap.String("job_id", jobID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return fmt.Errorf("failed to record dispatch attempts: %w", err)
	}
	return nil
}
