package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ifuryst/cadence/internal/models"
)

// MemoryStore keeps jobs in process. Readers take the read lock, so they see a
// job either before or after a transition, never half applied.
type MemoryStore struct {
	mu       sync.RWMutex
	jobs     map[string]*models.PublishingJob
	order    map[string]uint64
	seq      uint64
	attempts map[string][]*models.DispatchAttempt
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[string]*models.PublishingJob),
		order:    make(map[string]uint64),
		attempts: make(map[string][]*models.DispatchAttempt),
	}
}

func (s *MemoryStore) Create(_ context.Context, job *models.PublishingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("failed to create job: duplicate id %s", job.ID)
	}

	now := time.Now().UTC()
	normalize(job)
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	s.seq++
	s.order[job.ID] = s.seq
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.PublishingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, models.ErrJobNotFound
	}
	return job.Clone(), nil
}

func (s *MemoryStore) Transition(_ context.Context, id, action string, from []models.JobStatus, mutate MutateFunc) (*models.PublishingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[id]
	if !ok {
		return nil, models.ErrJobNotFound
	}
	if !statusIn(current.Status, from) {
		return nil, &models.InvalidTransitionError{JobID: id, From: current.Status, Action: action}
	}

	// mutate a copy so an aborted transition leaves no trace
	job := current.Clone()
	if err := mutate(job); err != nil {
		if errors.Is(err, ErrNoChange) {
			return current.Clone(), nil
		}
		return nil, err
	}
	normalize(job)
	job.UpdatedAt = time.Now().UTC()

	s.jobs[id] = job
	return job.Clone(), nil
}

func (s *MemoryStore) Purge(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return models.ErrJobNotFound
	}
	if job.Status == models.StatusProcessing {
		return &models.InvalidTransitionError{JobID: id, From: job.Status, Action: "purge"}
	}

	delete(s.jobs, id)
	delete(s.order, id)
	delete(s.attempts, id)
	return nil
}

func (s *MemoryStore) QueryDueBefore(_ context.Context, instant time.Time, limit int) ([]*models.PublishingJob, error) {
	jobs := s.filter(func(job *models.PublishingJob) bool {
		return job.Status == models.StatusScheduled && !job.ScheduleTime.After(instant)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *MemoryStore) QueryByDateRange(_ context.Context, start, end time.Time) ([]*models.PublishingJob, error) {
	return s.filter(func(job *models.PublishingJob) bool {
		return !job.ScheduleTime.Before(start) && !job.ScheduleTime.After(end)
	}), nil
}

func (s *MemoryStore) QueryStaleProcessing(_ context.Context, claimedBefore time.Time) ([]*models.PublishingJob, error) {
	return s.filter(func(job *models.PublishingJob) bool {
		return job.Status == models.StatusProcessing && job.ClaimedAt != nil && !job.ClaimedAt.After(claimedBefore)
	}), nil
}

func (s *MemoryStore) CountByStatus(_ context.Context) (map[models.JobStatus]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.JobStatus]int64)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

func (s *MemoryStore) CountActiveBoosts(_ context.Context) (int64, error) {
	jobs := s.filter(func(job *models.PublishingJob) bool {
		return job.BoostEnabled && (job.Status == models.StatusScheduled || job.Status == models.StatusProcessing)
	})
	return int64(len(jobs)), nil
}

func (s *MemoryStore) CountPostedSince(_ context.Context, since time.Time) (int64, error) {
	jobs := s.filter(func(job *models.PublishingJob) bool {
		return job.Status == models.StatusPosted && job.PostedAt != nil && !job.PostedAt.Before(since)
	})
	return int64(len(jobs)), nil
}

func (s *MemoryStore) RecordAttempts(_ context.Context, attempts []*models.DispatchAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, a := range attempts {
		c := *a
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		s.attempts[a.JobID] = append(s.attempts[a.JobID], &c)
	}
	return nil
}

func (s *MemoryStore) ListAttempts(_ context.Context, jobID string) ([]*models.DispatchAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.DispatchAttempt, 0, len(s.attempts[jobID]))
	for _, a := range s.attempts[jobID] {
		c := *a
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Attempt != out[j].Attempt {
			return out[i].Attempt < out[j].Attempt
		}
		return out[i].Platform < out[j].Platform
	})
	return out, nil
}

// filter returns clones of matching jobs ordered by schedule time, then creation order
func (s *MemoryStore) filter(match func(*models.PublishingJob) bool) []*models.PublishingJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.PublishingJob
	for _, job := range s.jobs {
		if match(job) {
			out = append(out, job.Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduleTime.Equal(out[j].ScheduleTime) {
			return out[i].ScheduleTime.Before(out[j].ScheduleTime)
		}
		return s.order[out[i].ID] < s.order[out[j].ID]
	})
	return out
}
