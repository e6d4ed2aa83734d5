package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/voxkit/backend/services/speech/entity"
)

// Diarizer is the external speaker-diarization engine boundary.
// Availability must be checked before calling Diarize; an unavailable
// diarizer never blocks transcription.
type Diarizer interface {
	Available() bool
	Diarize(ctx context.Context, audioPath string, numSpeakers int) ([]entity.SpeakerTurn, error)
}

// PyannoteCLI runs a pyannote-based diarization command that prints
// speaker turns as JSON on stdout. It needs a HuggingFace auth token.
type PyannoteCLI struct {
	bin       string
	authToken string
	runner    CommandRunner
	lookPath  func(string) (string, error)
}

type PyannoteOptions struct {
	Bin       string
	AuthToken string
	Runner    CommandRunner
	LookPath  func(string) (string, error)
}

func NewPyannoteCLI(opts PyannoteOptions) *PyannoteCLI {
	if opts.Bin == "" {
		opts.Bin = "pyannote-diarize"
	}
	if opts.Runner == nil {
		opts.Runner = NewExecRunner()
	}
	if opts.LookPath == nil {
		opts.LookPath = exec.LookPath
	}

	return &PyannoteCLI{
		bin:       opts.Bin,
		authToken: opts.AuthToken,
		runner:    opts.Runner,
		lookPath:  opts.LookPath,
	}
}

func (p *PyannoteCLI) Available() bool {
	if p.authToken == "" {
		return false
	}
	_, err := p.lookPath(p.bin)
	return err == nil
}

type diarizeOut struct {
	Turns []struct {
		Speaker string  `json:"speaker"`
		Start   float64 `json:"start"`
		End     float64 `json:"end"`
	} `json:"turns"`
}

func (p *PyannoteCLI) Diarize(ctx context.Context, audioPath string, numSpeakers int) ([]entity.SpeakerTurn, error) {
	args := []string{"--audio", audioPath}
	if numSpeakers > 0 {
		args = append(args, "--num-speakers", strconv.Itoa(numSpeakers))
	}

	env := append(os.Environ(), "HF_TOKEN="+p.authToken)

	result, err := p.runner.Run(ctx, p.bin, env, args...)
	if err != nil {
		detail := strings.TrimSpace(result.Stderr)
		if detail == "" {
			detail = err.Error()
		}
		return nil, fmt.Errorf("diarizer failed (exit=%d): %s", result.ExitCode, detail)
	}

	var parsed diarizeOut
	if err := json.Unmarshal([]byte(result.Stdout), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse diarizer output: %w", err)
	}

	// Engine-returned turn order is preserved exactly; overlap assignment
	// breaks ties by traversal order.
	turns := make([]entity.SpeakerTurn, 0, len(parsed.Turns))
	for _, t := range parsed.Turns {
		turns = append(turns, entity.SpeakerTurn{
			Speaker: t.Speaker,
			Start:   t.Start,
			End:     t.End,
		})
	}

	return turns, nil
}
