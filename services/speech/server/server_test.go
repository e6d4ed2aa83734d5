package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxkit/backend/services/speech/diagnose"
	"github.com/voxkit/backend/services/speech/engine"
	"github.com/voxkit/backend/services/speech/entity"
)

type stubUsecase struct {
	jobs        map[string]*entity.Job
	createdID   string
	submitted   []string
	model       string
	diarization bool
}

func (s *stubUsecase) CreateJob(ctx context.Context, jobType, inputPath string, params entity.TranscriptionParams) (string, error) {
	return s.createdID, nil
}

func (s *stubUsecase) SubmitJob(jobID, inputPath string, params entity.TranscriptionParams) {
	s.submitted = append(s.submitted, jobID)
}

func (s *stubUsecase) GetJob(ctx context.Context, jobID string) (*entity.Job, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, entity.NewJobNotFoundError(jobID)
	}
	return job, nil
}

func (s *stubUsecase) Shutdown(ctx context.Context) error { return nil }
func (s *stubUsecase) CurrentModel() string               { return s.model }
func (s *stubUsecase) DiarizationAvailable() bool         { return s.diarization }

type probeOKRunner struct{}

func (probeOKRunner) Run(ctx context.Context, name string, env []string, args ...string) (engine.CommandResult, error) {
	return engine.CommandResult{Stdout: `{
		"streams": [{"codec_name": "pcm_s16le", "sample_rate": "16000", "channels": 1}],
		"format": {"duration": "2.5"}
	}`}, nil
}

func newTestServer(t *testing.T, usc *stubUsecase) (*Server, chi.Router) {
	t.Helper()

	diagnostics := diagnose.NewEngineForTests(
		"ffprobe",
		probeOKRunner{},
		func(string) (string, error) { return "/usr/bin/ffprobe", nil },
	)

	srv := New(Options{
		Usecase:      usc,
		Diagnostics:  diagnostics,
		UploadDir:    t.TempDir(),
		MaxSizeMB:    500,
		DefaultModel: "base",
	})

	r := chi.NewRouter()
	srv.Mount(r)
	return srv, r
}

func decodeErrorBody(t *testing.T, body io.Reader) entity.Error {
	t.Helper()
	var payload struct {
		Error entity.Error `json:"error"`
	}
	require.NoError(t, json.NewDecoder(body).Decode(&payload))
	return payload.Error
}

func multipartUpload(t *testing.T, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func wavBytes() []byte {
	head := []byte("RIFF\x24\x08\x00\x00WAVEfmt ")
	return append(head, bytes.Repeat([]byte{0}, 2048)...)
}

func TestTranscribeFileCreatesJob(t *testing.T) {
	usc := &stubUsecase{createdID: "job-123"}
	_, r := newTestServer(t, usc)

	body, contentType := multipartUpload(t, "meeting.wav", wavBytes(), map[string]string{
		"model_size": "small",
		"language":   "en",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcribe/file", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		JobID   string `json:"jobId"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "job-123", resp.JobID)
	assert.Equal(t, string(entity.JobStatusPending), resp.Status)
	assert.NotEmpty(t, resp.Message)
	assert.Equal(t, []string{"job-123"}, usc.submitted)
}

func TestTranscribeFileRejectsMissingFile(t *testing.T) {
	_, r := newTestServer(t, &stubUsecase{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcribe/file", bytes.NewReader(nil))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=xxx")
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	e := decodeErrorBody(t, rec.Body)
	assert.Equal(t, entity.KindFileValidation, e.Kind)
}

func TestTranscribeFileRejectsUnsupportedExtension(t *testing.T) {
	usc := &stubUsecase{createdID: "job-1"}
	_, r := newTestServer(t, usc)

	body, contentType := multipartUpload(t, "notes.txt", []byte("hello"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcribe/file", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	e := decodeErrorBody(t, rec.Body)
	assert.Equal(t, entity.KindFileValidation, e.Kind)
	assert.Empty(t, usc.submitted)
}

func TestTranscribeFileRejectsUnknownModelSize(t *testing.T) {
	_, r := newTestServer(t, &stubUsecase{})

	body, contentType := multipartUpload(t, "a.wav", wavBytes(), map[string]string{
		"model_size": "enormous",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcribe/file", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	e := decodeErrorBody(t, rec.Body)
	assert.Contains(t, e.Details, "enormous")
}

func TestTranscribeFileRejectsBadSpeakerCount(t *testing.T) {
	_, r := newTestServer(t, &stubUsecase{})

	body, contentType := multipartUpload(t, "a.wav", wavBytes(), map[string]string{
		"num_speakers": "zero",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcribe/file", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	e := decodeErrorBody(t, rec.Body)
	assert.Contains(t, e.Details, "num_speakers")
}

func TestGetJobReturnsSnapshot(t *testing.T) {
	usc := &stubUsecase{
		jobs: map[string]*entity.Job{
			"job-9": {ID: "job-9", Status: entity.JobStatusProcessing, Progress: 45},
		},
	}
	_, r := newTestServer(t, usc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/transcribe/job/job-9", nil)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var job entity.Job
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&job))
	assert.Equal(t, "job-9", job.ID)
	assert.Equal(t, entity.JobStatusProcessing, job.Status)
	assert.Equal(t, 45, job.Progress)
}

func TestGetJobUnknownIDIs404(t *testing.T) {
	_, r := newTestServer(t, &stubUsecase{jobs: map[string]*entity.Job{}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/transcribe/job/nope", nil)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	e := decodeErrorBody(t, rec.Body)
	assert.Equal(t, entity.KindJobNotFound, e.Kind)
	assert.Contains(t, e.Message, "nope")
}

func TestModelsHandler(t *testing.T) {
	_, r := newTestServer(t, &stubUsecase{model: "medium"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/models", nil)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp modelsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, entity.ModelSizes, resp.WhisperModels)
	assert.Equal(t, "medium", resp.CurrentModel)
	assert.Contains(t, resp.SupportedLanguages, "en")
}

func TestHealthReportsDiarizationState(t *testing.T) {
	for _, tc := range []struct {
		available bool
		want      string
	}{
		{available: true, want: "ready"},
		{available: false, want: "disabled"},
	} {
		_, r := newTestServer(t, &stubUsecase{diarization: tc.available})

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Status   string            `json:"status"`
			Services map[string]string `json:"services"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "healthy", resp.Status)
		assert.Equal(t, tc.want, resp.Services["diarization"])
	}
}

func TestUploadedFileIsStoredInUploadDir(t *testing.T) {
	usc := &stubUsecase{createdID: "job-7"}
	srv, r := newTestServer(t, usc)

	body, contentType := multipartUpload(t, "call.wav", wavBytes(), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcribe/file", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	entries, err := filepath.Glob(filepath.Join(srv.uploadDir, "*.wav"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, filepath.Base(entries[0]), "call")
}
