package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/voxkit/backend/pkg/logger"
	"github.com/voxkit/backend/services/speech/entity"
)

// RawWord is one word-level timestamp as emitted by the recognizer CLI.
type RawWord struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}

// RawSegment is one recognizer segment before normalization. Confidence
// arrives as an average log-probability, not a [0,1] score.
type RawSegment struct {
	Start      float64   `json:"start"`
	End        float64   `json:"end"`
	Text       string    `json:"text"`
	AvgLogProb float64   `json:"avg_logprob"`
	Words      []RawWord `json:"words,omitempty"`
}

// RawResult is the recognizer CLI output for one audio file.
type RawResult struct {
	Language string       `json:"language"`
	Duration float64      `json:"duration"`
	Segments []RawSegment `json:"segments"`
}

// Recognizer is the external ASR engine boundary.
type Recognizer interface {
	// Load prepares the given model size. Switching sizes forces a reload
	// and must complete before the next transcription begins.
	Load(ctx context.Context, modelSize string) error
	LoadedModel() string
	// Transcribe decodes with the given model size. The size travels with
	// the call so concurrent jobs requesting different models cannot
	// decode with each other's choice.
	Transcribe(ctx context.Context, audioPath, modelSize, language string) (*RawResult, error)
}

// WhisperCLI runs a faster-whisper style command-line recognizer that
// prints a JSON document on stdout.
type WhisperCLI struct {
	bin         string
	device      string
	computeType string
	runner      CommandRunner
	lookPath    func(string) (string, error)

	// Serializes model switches process-wide; jobs requesting different
	// sizes back-to-back reload one at a time.
	mu    sync.Mutex
	model string
}

type WhisperOptions struct {
	Bin         string
	Device      string
	ComputeType string
	Runner      CommandRunner
	LookPath    func(string) (string, error)
}

func NewWhisperCLI(opts WhisperOptions) *WhisperCLI {
	if opts.Bin == "" {
		opts.Bin = "faster-whisper"
	}
	if opts.Device == "" {
		opts.Device = "cpu"
	}
	if opts.ComputeType == "" {
		opts.ComputeType = "int8"
	}
	if opts.Runner == nil {
		opts.Runner = NewExecRunner()
	}
	if opts.LookPath == nil {
		opts.LookPath = exec.LookPath
	}

	return &WhisperCLI{
		bin:         opts.Bin,
		device:      opts.Device,
		computeType: opts.ComputeType,
		runner:      opts.Runner,
		lookPath:    opts.LookPath,
	}
}

func (w *WhisperCLI) Load(ctx context.Context, modelSize string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.model == modelSize {
		return nil
	}

	if _, err := w.lookPath(w.bin); err != nil {
		return entity.NewError(
			entity.KindModelLoad,
			fmt.Sprintf("Failed to load Whisper model %s", modelSize),
			fmt.Sprintf("recognizer binary %q not found on PATH", w.bin),
		)
	}
	if !entity.IsValidModelSize(modelSize) {
		return entity.NewError(
			entity.KindModelLoad,
			fmt.Sprintf("Failed to load Whisper model %s", modelSize),
			fmt.Sprintf("unknown model size %q", modelSize),
		)
	}

	logger.Info(ctx, "loaded whisper model", "model", modelSize, "device", w.device)
	w.model = modelSize
	return nil
}

func (w *WhisperCLI) LoadedModel() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.model
}

func (w *WhisperCLI) Transcribe(ctx context.Context, audioPath, modelSize, language string) (*RawResult, error) {
	if modelSize == "" {
		return nil, fmt.Errorf("no model size specified")
	}

	args := buildTranscribeArgs(audioPath, modelSize, w.device, w.computeType, language)

	result, err := w.runner.Run(ctx, w.bin, nil, args...)
	if err != nil {
		detail := strings.TrimSpace(result.Stderr)
		if detail == "" {
			detail = err.Error()
		}
		return nil, fmt.Errorf("recognizer failed (exit=%d): %s", result.ExitCode, detail)
	}

	var raw RawResult
	if err := json.Unmarshal([]byte(result.Stdout), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse recognizer output: %w", err)
	}

	return &raw, nil
}

// buildTranscribeArgs fixes beam width, word timestamps, and VAD filtering
// so decoding stays stable across runs regardless of caller parameters.
func buildTranscribeArgs(audioPath, model, device, computeType, language string) []string {
	args := []string{
		"--audio", audioPath,
		"--model", model,
		"--device", device,
		"--compute-type", computeType,
		"--beam-size", "5",
		"--word-timestamps",
		"--vad-filter",
		"--output-format", "json",
	}

	if lang := normalizeLanguage(language); lang != "" {
		args = append(args, "--language", lang)
	}

	return args
}

// normalizeLanguage maps "auto" and empty hints to recognizer auto-detect.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}
