package storage

import (
	"context"
	"sync"
	"time"

	"github.com/voxkit/backend/services/speech/entity"
)

type memory struct {
	mu   sync.RWMutex
	jobs map[string]*entity.Job
}

// NewMemory returns a job store backed by a process-local map. It carries
// the same stamping semantics as the postgres store and is used when no
// DATABASE_URL is configured, and in tests.
func NewMemory() Storage {
	return &memory{
		jobs: make(map[string]*entity.Job),
	}
}

func (s *memory) CreateJob(ctx context.Context, job *entity.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *job
	s.jobs[job.ID] = &stored
	return nil
}

func (s *memory) GetJob(ctx context.Context, jobID string) (*entity.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}

	snapshot := *job
	return &snapshot, nil
}

func (s *memory) UpdateStatus(ctx context.Context, jobID string, status entity.JobStatus, progress int, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}

	now := time.Now().UTC()
	job.Status = status
	job.Progress = progress
	if errMsg != "" {
		job.Error = errMsg
	}
	if status == entity.JobStatusProcessing && job.StartedAt == nil {
		started := now
		job.StartedAt = &started
	}
	if status == entity.JobStatusCompleted || status == entity.JobStatusFailed {
		completed := now
		job.CompletedAt = &completed
		if job.StartedAt != nil {
			duration := now.Sub(*job.StartedAt).Seconds()
			job.Duration = &duration
		}
	}

	return nil
}

func (s *memory) SaveResult(ctx context.Context, jobID string, result *entity.TranscriptionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}

	job.Result = result
	return nil
}
