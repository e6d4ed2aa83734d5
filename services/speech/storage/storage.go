package storage

import (
	"context"
	"errors"

	"github.com/voxkit/backend/services/speech/entity"
)

// ErrJobNotFound distinguishes a missing record from storage being
// unavailable; callers map it to the JOB_NOT_FOUND error kind.
var ErrJobNotFound = errors.New("job not found")

// Storage is the durable record store for jobs. Each call is atomic on its
// own; callers must not assume read-modify-write atomicity across two calls.
type Storage interface {
	CreateJob(ctx context.Context, job *entity.Job) error
	GetJob(ctx context.Context, jobID string) (*entity.Job, error)

	// UpdateStatus applies a partial status/progress update. The first
	// transition to processing stamps StartedAt; a terminal status stamps
	// CompletedAt and, when StartedAt is set, the run duration in seconds.
	// A non-empty errMsg replaces the stored error message.
	UpdateStatus(ctx context.Context, jobID string, status entity.JobStatus, progress int, errMsg string) error

	// SaveResult attaches the finished payload without touching status.
	SaveResult(ctx context.Context, jobID string, result *entity.TranscriptionResult) error
}
