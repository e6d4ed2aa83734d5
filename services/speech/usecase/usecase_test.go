package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxkit/backend/services/speech/engine"
	"github.com/voxkit/backend/services/speech/entity"
	"github.com/voxkit/backend/services/speech/storage"
)

type stubRecognizer struct {
	result  *engine.RawResult
	err     error
	loadErr error
	model   string

	// Model size the last Transcribe call decoded with.
	decodedWith string

	// When set, Transcribe blocks until the context is cancelled.
	blocking bool
}

func (s *stubRecognizer) Load(ctx context.Context, modelSize string) error {
	if s.loadErr != nil {
		return s.loadErr
	}
	s.model = modelSize
	return nil
}

func (s *stubRecognizer) LoadedModel() string { return s.model }

func (s *stubRecognizer) Transcribe(ctx context.Context, audioPath, modelSize, language string) (*engine.RawResult, error) {
	s.decodedWith = modelSize
	if s.blocking {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.result, s.err
}

type stubDiarizer struct {
	available bool
	turns     []entity.SpeakerTurn
	err       error
}

func (s *stubDiarizer) Available() bool { return s.available }

func (s *stubDiarizer) Diarize(ctx context.Context, audioPath string, numSpeakers int) ([]entity.SpeakerTurn, error) {
	return s.turns, s.err
}

func rawResult() *engine.RawResult {
	return &engine.RawResult{
		Language: "en",
		Duration: 10,
		Segments: []engine.RawSegment{
			{Start: 0, End: 4, Text: "hello there", AvgLogProb: -0.2},
			{Start: 4, End: 10, Text: "general remarks", AvgLogProb: -0.4},
		},
	}
}

func newUsecase(rec engine.Recognizer, diar engine.Diarizer) (Usecase, storage.Storage) {
	store := storage.NewMemory()
	usc := New(Options{
		Storage:      store,
		Recognizer:   rec,
		Diarizer:     diar,
		DefaultModel: "base",
		MaxJobs:      8,
	})
	return usc, store
}

func waitForTerminal(t *testing.T, usc Usecase, jobID string) *entity.Job {
	t.Helper()

	var job *entity.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = usc.GetJob(context.Background(), jobID)
		if err != nil {
			return false
		}
		return job.Status == entity.JobStatusCompleted || job.Status == entity.JobStatusFailed
	}, 5*time.Second, 10*time.Millisecond)

	return job
}

func TestCreateJobStartsPending(t *testing.T) {
	usc, _ := newUsecase(&stubRecognizer{result: rawResult()}, nil)

	jobID, err := usc.CreateJob(context.Background(), entity.JobTypeTranscription, "/tmp/a.wav",
		entity.TranscriptionParams{ModelSize: "base"})
	require.NoError(t, err)

	job, err := usc.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.Progress)
}

func TestGetJobNotFound(t *testing.T) {
	usc, _ := newUsecase(&stubRecognizer{}, nil)

	_, err := usc.GetJob(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, entity.KindJobNotFound, entity.KindOf(err))
}

func TestRunJobCompletes(t *testing.T) {
	rec := &stubRecognizer{result: rawResult()}
	usc, _ := newUsecase(rec, nil)
	params := entity.TranscriptionParams{ModelSize: "small"}

	jobID, err := usc.CreateJob(context.Background(), entity.JobTypeTranscription, "/tmp/a.wav", params)
	require.NoError(t, err)
	usc.SubmitJob(jobID, "/tmp/a.wav", params)

	job := waitForTerminal(t, usc, jobID)

	assert.Equal(t, entity.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.Result)
	assert.Equal(t, "hello there general remarks", job.Result.Text)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.CompletedAt)
	require.NotNil(t, job.Duration)
	assert.GreaterOrEqual(t, *job.Duration, 0.0)
	assert.Empty(t, job.Error)

	// The requested model was loaded before recognition and decoding used
	// the job's own size, not shared recognizer state.
	assert.Equal(t, "small", usc.CurrentModel())
	assert.Equal(t, "small", rec.decodedWith)
}

func TestRunJobAssignsSpeakers(t *testing.T) {
	diar := &stubDiarizer{
		available: true,
		turns: []entity.SpeakerTurn{
			{Speaker: "SPEAKER_00", Start: 0, End: 5},
			{Speaker: "SPEAKER_01", Start: 5, End: 10},
		},
	}
	usc, _ := newUsecase(&stubRecognizer{result: rawResult()}, diar)
	params := entity.TranscriptionParams{ModelSize: "base", EnableDiarization: true}

	jobID, err := usc.CreateJob(context.Background(), entity.JobTypeTranscription, "/tmp/a.wav", params)
	require.NoError(t, err)
	usc.SubmitJob(jobID, "/tmp/a.wav", params)

	job := waitForTerminal(t, usc, jobID)

	assert.Equal(t, entity.JobStatusCompleted, job.Status)
	require.NotNil(t, job.Result)
	require.Len(t, job.Result.Segments, 2)
	require.NotNil(t, job.Result.Segments[0].Speaker)
	assert.Equal(t, "SPEAKER_00", *job.Result.Segments[0].Speaker)
	require.NotNil(t, job.Result.Segments[1].Speaker)
	assert.Equal(t, "SPEAKER_01", *job.Result.Segments[1].Speaker)
}

func TestRunJobDiarizationFailureIsTolerated(t *testing.T) {
	diar := &stubDiarizer{available: true, err: errors.New("pipeline crashed")}
	usc, _ := newUsecase(&stubRecognizer{result: rawResult()}, diar)
	params := entity.TranscriptionParams{ModelSize: "base", EnableDiarization: true}

	jobID, err := usc.CreateJob(context.Background(), entity.JobTypeTranscription, "/tmp/a.wav", params)
	require.NoError(t, err)
	usc.SubmitJob(jobID, "/tmp/a.wav", params)

	job := waitForTerminal(t, usc, jobID)

	assert.Equal(t, entity.JobStatusCompleted, job.Status)
	require.NotNil(t, job.Result)
	for _, seg := range job.Result.Segments {
		assert.Nil(t, seg.Speaker)
	}
}

func TestRunJobDiarizationUnavailableIsSkipped(t *testing.T) {
	usc, _ := newUsecase(&stubRecognizer{result: rawResult()}, &stubDiarizer{available: false})
	params := entity.TranscriptionParams{ModelSize: "base", EnableDiarization: true}

	jobID, err := usc.CreateJob(context.Background(), entity.JobTypeTranscription, "/tmp/a.wav", params)
	require.NoError(t, err)
	usc.SubmitJob(jobID, "/tmp/a.wav", params)

	job := waitForTerminal(t, usc, jobID)
	assert.Equal(t, entity.JobStatusCompleted, job.Status)
}

func TestRunJobRecognitionFailureFailsJob(t *testing.T) {
	rec := &stubRecognizer{err: errors.New("CUDA error: device lost")}
	usc, _ := newUsecase(rec, nil)
	params := entity.TranscriptionParams{ModelSize: "base"}

	jobID, err := usc.CreateJob(context.Background(), entity.JobTypeTranscription, "/tmp/a.wav", params)
	require.NoError(t, err)
	usc.SubmitJob(jobID, "/tmp/a.wav", params)

	job := waitForTerminal(t, usc, jobID)

	assert.Equal(t, entity.JobStatusFailed, job.Status)
	assert.Equal(t, 0, job.Progress)
	assert.Contains(t, job.Error, "CUDA error")
	assert.Contains(t, job.Error, "WHISPER_DEVICE=cpu")
	assert.Nil(t, job.Result)
}

func TestRunJobModelLoadFailureFailsJob(t *testing.T) {
	rec := &stubRecognizer{
		loadErr: entity.NewError(entity.KindModelLoad, "Failed to load Whisper model large", "binary missing"),
	}
	usc, _ := newUsecase(rec, nil)
	params := entity.TranscriptionParams{ModelSize: "large"}

	jobID, err := usc.CreateJob(context.Background(), entity.JobTypeTranscription, "/tmp/a.wav", params)
	require.NoError(t, err)
	usc.SubmitJob(jobID, "/tmp/a.wav", params)

	job := waitForTerminal(t, usc, jobID)

	assert.Equal(t, entity.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "Failed to load Whisper model large")
}

func TestShutdownDrainsActiveJobs(t *testing.T) {
	rec := &stubRecognizer{blocking: true, model: "base"}
	usc, _ := newUsecase(rec, nil)
	params := entity.TranscriptionParams{ModelSize: "base"}

	var jobIDs []string
	for i := 0; i < 4; i++ {
		jobID, err := usc.CreateJob(context.Background(), entity.JobTypeTranscription, "/tmp/a.wav", params)
		require.NoError(t, err)
		usc.SubmitJob(jobID, "/tmp/a.wav", params)
		jobIDs = append(jobIDs, jobID)
	}

	// Let the runs reach the blocking recognizer call.
	require.Eventually(t, func() bool {
		for _, id := range jobIDs {
			job, err := usc.GetJob(context.Background(), id)
			if err != nil || job.Status != entity.JobStatusProcessing {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, usc.Shutdown(shutdownCtx))

	for _, id := range jobIDs {
		job, err := usc.GetJob(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, entity.JobStatusFailed, job.Status)
	}

	impl := usc.(*usecase)
	impl.mu.Lock()
	assert.Empty(t, impl.active)
	impl.mu.Unlock()
}
