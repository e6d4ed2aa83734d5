package usecase

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/voxkit/backend/pkg/gen"
	"github.com/voxkit/backend/pkg/logger"
	"github.com/voxkit/backend/services/speech/engine"
	"github.com/voxkit/backend/services/speech/entity"
	"github.com/voxkit/backend/services/speech/pipeline"
	"github.com/voxkit/backend/services/speech/storage"
)

// Usecase is the job orchestrator: it owns job identity and lifecycle,
// runs the pipeline as cancellable background work, and answers queries.
type Usecase interface {
	CreateJob(ctx context.Context, jobType, inputPath string, params entity.TranscriptionParams) (string, error)
	SubmitJob(jobID, inputPath string, params entity.TranscriptionParams)
	GetJob(ctx context.Context, jobID string) (*entity.Job, error)
	Shutdown(ctx context.Context) error

	CurrentModel() string
	DiarizationAvailable() bool
}

type usecase struct {
	storage    storage.Storage
	recognizer engine.Recognizer
	diarizer   engine.Diarizer
	runner     *pipeline.Runner
	ids        gen.UUIDGenerator
	sem        *semaphore.Weighted

	defaultModel string

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup

	// Base context for background runs; carries the process logger and is
	// independent of any request lifetime.
	baseCtx context.Context
}

type Options struct {
	Storage      storage.Storage
	Recognizer   engine.Recognizer
	Diarizer     engine.Diarizer
	DefaultModel string
	MaxJobs      int64
	BaseCtx      context.Context
}

func New(opts Options) Usecase {
	if opts.MaxJobs <= 0 {
		opts.MaxJobs = 3
	}
	if opts.BaseCtx == nil {
		opts.BaseCtx = context.Background()
	}
	if opts.DefaultModel == "" {
		opts.DefaultModel = "base"
	}

	return &usecase{
		storage:      opts.Storage,
		recognizer:   opts.Recognizer,
		diarizer:     opts.Diarizer,
		runner:       pipeline.NewRunner(opts.Recognizer),
		ids:          gen.UUID(),
		sem:          semaphore.NewWeighted(opts.MaxJobs),
		defaultModel: opts.DefaultModel,
		active:       make(map[string]context.CancelFunc),
		baseCtx:      opts.BaseCtx,
	}
}

func (u *usecase) CreateJob(ctx context.Context, jobType, inputPath string, params entity.TranscriptionParams) (string, error) {
	jobID := u.ids.Next().String()

	job := &entity.Job{
		ID:        jobID,
		Type:      jobType,
		Status:    entity.JobStatusPending,
		Progress:  0,
		InputPath: inputPath,
		Params:    params,
		CreatedAt: time.Now().UTC(),
	}
	if err := u.storage.CreateJob(ctx, job); err != nil {
		return "", err
	}

	logger.Info(ctx, "created job", "job_id", jobID, "type", jobType)
	return jobID, nil
}

func (u *usecase) GetJob(ctx context.Context, jobID string) (*entity.Job, error) {
	job, err := u.storage.GetJob(ctx, jobID)
	if err == storage.ErrJobNotFound {
		return nil, entity.NewJobNotFoundError(jobID)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// SubmitJob schedules the pipeline run in the background and returns
// immediately. The run is tracked in the active table until it reaches a
// terminal state, however it gets there.
func (u *usecase) SubmitJob(jobID, inputPath string, params entity.TranscriptionParams) {
	jobCtx, cancel := context.WithCancel(u.baseCtx)

	u.mu.Lock()
	u.active[jobID] = cancel
	u.mu.Unlock()

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		defer cancel()
		defer u.deregister(jobID)

		u.runJob(jobCtx, jobID, inputPath, params)
	}()

	logger.Info(u.baseCtx, "submitted job", "job_id", jobID)
}

func (u *usecase) deregister(jobID string) {
	u.mu.Lock()
	delete(u.active, jobID)
	u.mu.Unlock()
}

// runJob executes the pipeline for one job, persisting every stage
// transition. Any failure other than a tolerated diarization failure
// terminates the job as failed with a classified message.
func (u *usecase) runJob(ctx context.Context, jobID, inputPath string, params entity.TranscriptionParams) {
	log := logger.With(ctx, "job_id", jobID)
	ctx = logger.WithContext(ctx, log)

	if err := u.sem.Acquire(ctx, 1); err != nil {
		u.fail(ctx, jobID, err)
		return
	}
	defer u.sem.Release(1)

	log.Info("starting transcription job")
	if err := u.storage.UpdateStatus(ctx, jobID, entity.JobStatusProcessing, 5, ""); err != nil {
		u.fail(ctx, jobID, err)
		return
	}

	// Model switches must finish before recognition starts; a different
	// size than the loaded one forces a reload.
	modelSize := params.ModelSize
	if modelSize == "" {
		modelSize = u.defaultModel
	}
	if modelSize != u.recognizer.LoadedModel() {
		if err := u.recognizer.Load(ctx, modelSize); err != nil {
			u.fail(ctx, jobID, err)
			return
		}
	}

	if err := u.storage.UpdateStatus(ctx, jobID, entity.JobStatusProcessing, 10, ""); err != nil {
		u.fail(ctx, jobID, err)
		return
	}

	// Recognition progress arrives on a channel so the storage writes stay
	// out of the pipeline stage itself.
	updates := make(chan int, 16)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for p := range updates {
			_ = u.storage.UpdateStatus(ctx, jobID, entity.JobStatusProcessing, p, "")
		}
	}()

	result, err := u.runner.Transcribe(ctx, pipeline.ASRRequest{
		AudioPath: inputPath,
		ModelSize: modelSize,
		Language:  params.Language,
	}, updates)
	close(updates)
	<-drained

	if err != nil {
		u.fail(ctx, jobID, err)
		return
	}

	if params.EnableDiarization {
		u.diarize(ctx, jobID, inputPath, params, result)
	}

	if err := u.storage.UpdateStatus(ctx, jobID, entity.JobStatusProcessing, 95, ""); err != nil {
		u.fail(ctx, jobID, err)
		return
	}
	if err := u.storage.SaveResult(ctx, jobID, result); err != nil {
		u.fail(ctx, jobID, err)
		return
	}
	if err := u.storage.UpdateStatus(ctx, jobID, entity.JobStatusCompleted, 100, ""); err != nil {
		u.fail(ctx, jobID, err)
		return
	}

	log.Info("completed transcription job")
}

// diarize runs the best-effort speaker stage. Every failure here is logged
// and swallowed; the job completes without speaker labels instead.
func (u *usecase) diarize(ctx context.Context, jobID, inputPath string, params entity.TranscriptionParams, result *entity.TranscriptionResult) {
	log := logger.FromContext(ctx)

	_ = u.storage.UpdateStatus(ctx, jobID, entity.JobStatusProcessing, 92, "")

	if u.diarizer == nil || !u.diarizer.Available() {
		log.Info("diarization requested but not available, skipping")
		return
	}

	turns, err := u.diarizer.Diarize(ctx, inputPath, params.NumSpeakers)
	if err != nil {
		log.Warn("diarization failed, continuing without speaker labels", "error", err)
		return
	}

	result.Segments = pipeline.AssignSpeakers(result.Segments, turns)
	log.Info("assigned speakers", "turns", len(turns))
}

// fail terminates the job with a classified message and progress reset to
// zero. Status writes use a detached context so cancelled jobs still reach
// a terminal state.
func (u *usecase) fail(ctx context.Context, jobID string, err error) {
	logger.ErrorErr(ctx, "transcription job failed", err)

	msg := entity.Reclassify(err.Error())
	writeCtx := context.WithoutCancel(ctx)
	if uerr := u.storage.UpdateStatus(writeCtx, jobID, entity.JobStatusFailed, 0, msg); uerr != nil {
		logger.ErrorErr(ctx, "failed to record job failure", uerr)
	}
}

// Shutdown cancels every in-flight run and waits for all of them to reach
// a terminal state. Cancelled runs record a failure and are not re-raised.
func (u *usecase) Shutdown(ctx context.Context) error {
	u.mu.Lock()
	for jobID, cancel := range u.active {
		logger.Info(ctx, "cancelling active job", "job_id", jobID)
		cancel()
	}
	u.mu.Unlock()

	done := make(chan struct{})
	go func() {
		u.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (u *usecase) CurrentModel() string {
	if loaded := u.recognizer.LoadedModel(); loaded != "" {
		return loaded
	}
	return u.defaultModel
}

func (u *usecase) DiarizationAvailable() bool {
	return u.diarizer != nil && u.diarizer.Available()
}
