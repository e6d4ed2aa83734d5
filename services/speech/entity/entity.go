package entity

import "time"

// JobStatus is the lifecycle state of a transcription job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// JobTypeTranscription is currently the only job type the service runs.
const JobTypeTranscription = "transcription"

// TranscriptionParams are the caller-supplied knobs for one job. They are
// persisted alongside the job as an opaque JSON blob.
type TranscriptionParams struct {
	Language          string `json:"language,omitempty"`
	ModelSize         string `json:"modelSize"`
	EnableDiarization bool   `json:"enableDiarization"`
	NumSpeakers       int    `json:"numSpeakers,omitempty"`
}

// Word is a word-level sub-segment with its own timing and confidence.
type Word struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Segment is one recognized span of speech. Speaker stays nil unless
// diarization assigned a label.
type Segment struct {
	ID         int     `json:"id"`
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
	Speaker    *string `json:"speaker,omitempty"`
	Words      []Word  `json:"words,omitempty"`
}

// SpeakerTurn is one who-spoke-when interval produced by diarization,
// independent of any transcript segment.
type SpeakerTurn struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// TranscriptionResult is the finished payload for a completed job.
type TranscriptionResult struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
}

// Job is the persisted unit of orchestrated work.
type Job struct {
	ID        string              `json:"jobId"`
	Type      string              `json:"type"`
	Status    JobStatus           `json:"status"`
	Progress  int                 `json:"progress"`
	InputPath string              `json:"-"`
	Params    TranscriptionParams `json:"-"`

	Result *TranscriptionResult `json:"result,omitempty"`
	Error  string               `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Duration    *float64   `json:"duration,omitempty"`
}

// Diagnosis explains why an audio input was rejected or unreadable.
// It is returned to the caller and never persisted.
type Diagnosis struct {
	Filename       string   `json:"filename"`
	Extension      string   `json:"extension"`
	SizeMB         float64  `json:"fileSizeMb"`
	DetectedFormat string   `json:"detectedFormat,omitempty"`
	Issues         []string `json:"issues"`
	Suggestions    []string `json:"suggestions"`
}
