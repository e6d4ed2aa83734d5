package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/voxkit/backend/pkg/gen"
	pkgjson "github.com/voxkit/backend/pkg/json"
	"github.com/voxkit/backend/pkg/logger"
	"github.com/voxkit/backend/services/speech/diagnose"
	"github.com/voxkit/backend/services/speech/entity"
	"github.com/voxkit/backend/services/speech/upload"
	"github.com/voxkit/backend/services/speech/usecase"
)

type Server struct {
	usecase      usecase.Usecase
	diagnostics  *diagnose.Engine
	uploadDir    string
	maxSizeMB    int64
	defaultModel string
	ids          gen.UUIDGenerator
}

type Options struct {
	Usecase      usecase.Usecase
	Diagnostics  *diagnose.Engine
	UploadDir    string
	MaxSizeMB    int64
	DefaultModel string
}

func New(opts Options) *Server {
	return &Server{
		usecase:      opts.Usecase,
		diagnostics:  opts.Diagnostics,
		uploadDir:    opts.UploadDir,
		maxSizeMB:    opts.MaxSizeMB,
		defaultModel: opts.DefaultModel,
		ids:          gen.UUID(),
	}
}

// Mount attaches the transcription API onto a chi router.
func (s *Server) Mount(r chi.Router) {
	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/transcribe/file", s.TranscribeFileHandler)
		api.Get("/transcribe/job/{jobID}", s.GetJobHandler)
		api.Get("/models", s.ModelsHandler)
	})
	r.Get("/health", s.HealthHandler)
}

type jobCreateResponse struct {
	JobID   string           `json:"jobId"`
	Status  entity.JobStatus `json:"status"`
	Message string           `json:"message"`
}

// TranscribeFileHandler accepts a multipart audio upload, validates it,
// and creates plus submits a transcription job.
func (s *Server) TranscribeFileHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, entity.NewFileValidationError(
			"Missing file upload",
			"The request must include a multipart field named \"file\".",
			nil,
		))
		return
	}
	defer file.Close()

	if err := diagnose.ValidateUpload(header.Filename, header.Size, s.maxSizeMB); err != nil {
		s.writeError(w, err)
		return
	}

	params := entity.TranscriptionParams{
		Language:          r.FormValue("language"),
		ModelSize:         r.FormValue("model_size"),
		EnableDiarization: r.FormValue("enable_diarization") == "true",
	}
	if params.ModelSize == "" {
		params.ModelSize = s.defaultModel
	}
	if !entity.IsValidModelSize(params.ModelSize) {
		s.writeError(w, entity.NewFileValidationError(
			"Invalid parameters",
			"unknown model size: "+params.ModelSize,
			nil,
		))
		return
	}
	if raw := r.FormValue("num_speakers"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, entity.NewFileValidationError(
				"Invalid parameters",
				"num_speakers must be a positive integer",
				nil,
			))
			return
		}
		params.NumSpeakers = n
	}

	storedName := upload.UniqueFilename(s.ids, header.Filename)
	path, err := upload.Save(file, s.uploadDir, storedName)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.diagnostics.Validate(ctx, path); err != nil {
		upload.Cleanup(path)
		s.writeError(w, err)
		return
	}

	jobID, err := s.usecase.CreateJob(ctx, entity.JobTypeTranscription, path, params)
	if err != nil {
		upload.Cleanup(path)
		s.writeError(w, err)
		return
	}
	s.usecase.SubmitJob(jobID, path, params)

	logger.Info(ctx, "created transcription job", "job_id", jobID, "file", header.Filename)

	pkgjson.WriteJSON(w, http.StatusAccepted, jobCreateResponse{
		JobID:   jobID,
		Status:  entity.JobStatusPending,
		Message: "Transcription job created and queued for processing",
	})
}

// GetJobHandler returns the current persisted job snapshot.
func (s *Server) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := s.usecase.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	pkgjson.WriteJSON(w, http.StatusOK, job)
}

type modelsResponse struct {
	WhisperModels      []string `json:"whisperModels"`
	CurrentModel       string   `json:"currentModel"`
	SupportedLanguages []string `json:"supportedLanguages"`
}

func (s *Server) ModelsHandler(w http.ResponseWriter, r *http.Request) {
	pkgjson.WriteJSON(w, http.StatusOK, modelsResponse{
		WhisperModels:      entity.ModelSizes,
		CurrentModel:       s.usecase.CurrentModel(),
		SupportedLanguages: entity.SupportedLanguages,
	})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	diarization := "disabled"
	if s.usecase.DiarizationAvailable() {
		diarization = "ready"
	}

	pkgjson.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"services": map[string]string{
			"transcription": "ready",
			"diarization":   diarization,
		},
	})
}

// writeError maps the domain error taxonomy onto the transport: only
// JOB_NOT_FOUND gets a 404, every other known kind is a 400 with the
// structured body, and anything unclassified is a 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var e *entity.Error
	if !errors.As(err, &e) {
		pkgjson.WriteJSON(w, http.StatusInternalServerError, map[string]any{
			"error": entity.NewError(entity.KindInternal, "An unexpected error occurred", err.Error()),
		})
		return
	}

	status := http.StatusBadRequest
	if e.Kind == entity.KindJobNotFound {
		status = http.StatusNotFound
	}
	pkgjson.WriteJSON(w, status, map[string]any{"error": e})
}
