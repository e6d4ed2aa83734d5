package pipeline

import (
	"context"
	"math"
	"strings"

	"github.com/voxkit/backend/pkg/logger"
	"github.com/voxkit/backend/services/speech/engine"
	"github.com/voxkit/backend/services/speech/entity"
)

// logProbFloor caps how negative a segment log-probability can be before
// exponentiation; anything below maps to the same near-zero confidence.
const logProbFloor = -10.0

// ASRRequest is the input for one recognition stage run.
type ASRRequest struct {
	AudioPath string
	ModelSize string
	Language  string
}

// Runner drives the recognition stage: it invokes the external engine,
// normalizes raw segments into the domain shape, and reports progress.
type Runner struct {
	recognizer engine.Recognizer
}

func NewRunner(recognizer engine.Recognizer) *Runner {
	return &Runner{recognizer: recognizer}
}

// Transcribe runs the engine once and builds the normalized result.
// Progress values in the recognition band are published on updates as
// segments are consumed; the caller owns and closes the channel.
// Engine failures are wrapped as TRANSCRIPTION_ERROR.
func (r *Runner) Transcribe(ctx context.Context, req ASRRequest, updates chan<- int) (*entity.TranscriptionResult, error) {
	raw, err := r.recognizer.Transcribe(ctx, req.AudioPath, req.ModelSize, req.Language)
	if err != nil {
		return nil, entity.NewError(
			entity.KindTranscription,
			"Failed to transcribe audio file",
			err.Error(),
		)
	}

	tracker := NewTracker(raw.Duration, updates)

	segments := make([]entity.Segment, 0, len(raw.Segments))
	textParts := make([]string, 0, len(raw.Segments))

	for idx, seg := range raw.Segments {
		text := strings.TrimSpace(seg.Text)

		var words []entity.Word
		for _, w := range seg.Words {
			words = append(words, entity.Word{
				Word:       w.Word,
				Start:      w.Start,
				End:        w.End,
				Confidence: clampUnit(w.Probability),
			})
		}

		segments = append(segments, entity.Segment{
			ID:         idx,
			Text:       text,
			Start:      seg.Start,
			End:        seg.End,
			Confidence: Confidence(seg.AvgLogProb),
			Words:      words,
		})
		textParts = append(textParts, text)

		tracker.Mark(seg.End)
	}

	language := raw.Language
	if language == "" {
		language = req.Language
		if language == "" {
			language = "en"
		}
	}

	logger.Info(ctx, "transcription completed",
		"segments", len(segments), "language", language, "duration", raw.Duration)

	return &entity.TranscriptionResult{
		Text:     strings.Join(textParts, " "),
		Segments: segments,
		Language: language,
		Duration: raw.Duration,
	}, nil
}

// Confidence converts an engine average log-probability into a [0,1]
// score: the log-probability is clamped to [-10, 0] before exponentiation
// and the result is clamped again to absorb numerical noise.
func Confidence(logProb float64) float64 {
	if logProb < logProbFloor {
		logProb = logProbFloor
	}
	if logProb > 0 {
		logProb = 0
	}
	return clampUnit(math.Exp(logProb))
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
