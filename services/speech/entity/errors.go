package entity

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the stable code a client can branch on.
type ErrorKind string

const (
	KindModelLoad      ErrorKind = "MODEL_LOAD_ERROR"
	KindTranscription  ErrorKind = "TRANSCRIPTION_ERROR"
	KindDiarization    ErrorKind = "DIARIZATION_ERROR"
	KindFileValidation ErrorKind = "FILE_VALIDATION_ERROR"
	KindJobNotFound    ErrorKind = "JOB_NOT_FOUND"
	KindInternal       ErrorKind = "INTERNAL_ERROR"
)

// Error is the structured error surfaced at the service boundary.
type Error struct {
	Kind        ErrorKind `json:"code"`
	Message     string    `json:"message"`
	Details     string    `json:"details,omitempty"`
	Suggestions []string  `json:"suggestions,omitempty"`
}

func (e *Error) Error() string {
	if e.Details == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, e.Details)
}

func NewError(kind ErrorKind, message, details string) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

func NewFileValidationError(message, details string, suggestions []string) *Error {
	return &Error{
		Kind:        KindFileValidation,
		Message:     message,
		Details:     details,
		Suggestions: suggestions,
	}
}

func NewJobNotFoundError(jobID string) *Error {
	return &Error{
		Kind:    KindJobNotFound,
		Message: fmt.Sprintf("Job %s not found", jobID),
		Details: fmt.Sprintf("No job exists with ID: %s", jobID),
	}
}

// KindOf extracts the error kind, defaulting to KindInternal for plain errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Reclassify appends recovery guidance to a failed job's raw error message
// when it matches a known failure signature. The message is only ever
// extended, never replaced, and the error kind is untouched.
func Reclassify(msg string) string {
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "out of memory"),
		strings.Contains(lower, "cannot allocate memory"),
		strings.Contains(lower, "memory exhausted"):
		return msg + " (try a smaller model size or a shorter audio file)"
	case strings.Contains(lower, "cuda"),
		strings.Contains(lower, "cublas"),
		strings.Contains(lower, "gpu"):
		return msg + " (GPU failure; retry with WHISPER_DEVICE=cpu)"
	case strings.Contains(lower, "shape mismatch"),
		strings.Contains(lower, "dimension mismatch"),
		strings.Contains(lower, "assertion failed"):
		return msg + " (possible internal defect; please report this with the audio file)"
	}

	return msg
}
