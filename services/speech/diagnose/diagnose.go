package diagnose

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/voxkit/backend/services/speech/engine"
	"github.com/voxkit/backend/services/speech/entity"
)

const (
	headerBytes = 32

	// Size bounds, in bytes. Anything at or under emptyThreshold cannot
	// contain audio; below suspiciousThreshold is implausibly small for a
	// real recording.
	emptyThreshold      = 1024
	suspiciousThreshold = 50 * 1024

	probeTimeout = 10 * time.Second
)

// ProbeInfo is what ffprobe recovered about a stream. Err holds the probe
// failure text when the tool times out or exits non-zero; probing never
// raises. ToolMissing marks that the probe tool itself was absent, which
// says nothing about the file.
type ProbeInfo struct {
	Codec       string  `json:"codec,omitempty"`
	SampleRate  string  `json:"sampleRate,omitempty"`
	Channels    int     `json:"channels,omitempty"`
	BitRate     string  `json:"bitRate,omitempty"`
	Duration    float64 `json:"duration,omitempty"`
	Err         string  `json:"error,omitempty"`
	ToolMissing bool    `json:"-"`
}

// Engine turns an unreadable audio input into an actionable diagnosis.
type Engine struct {
	probeBin string
	runner   engine.CommandRunner
	lookPath func(string) (string, error)
	stat     func(string) (os.FileInfo, error)
	readHead func(string, int) ([]byte, error)
}

func NewEngine() *Engine {
	return &Engine{
		probeBin: "ffprobe",
		runner:   engine.NewExecRunner(),
		lookPath: exec.LookPath,
		stat:     os.Stat,
		readHead: readHead,
	}
}

// NewEngineForTests creates an engine with injectable dependencies.
func NewEngineForTests(
	probeBin string,
	runner engine.CommandRunner,
	lookPath func(string) (string, error),
) *Engine {
	return &Engine{
		probeBin: probeBin,
		runner:   runner,
		lookPath: lookPath,
		stat:     os.Stat,
		readHead: readHead,
	}
}

func readHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := f.Read(buf)
	if read > 0 {
		return buf[:read], nil
	}
	return nil, err
}

// Diagnose inspects a rejected file and classifies what is wrong with it.
// decodeErr is the raw decoder/engine error text that triggered the
// inspection; it may be empty. The issue rules are applied in order and
// are not mutually exclusive, and the result never has an empty issue or
// suggestion list.
func (e *Engine) Diagnose(ctx context.Context, path, decodeErr string) entity.Diagnosis {
	ext := strings.ToLower(filepath.Ext(path))
	d := entity.Diagnosis{
		Filename:  filepath.Base(path),
		Extension: ext,
	}

	var size int64
	if info, err := e.stat(path); err == nil {
		size = info.Size()
		d.SizeMB = float64(size) / (1024 * 1024)
	}

	if head, err := e.readHead(path, headerBytes); err == nil {
		d.DetectedFormat = detectFormat(head)
	}

	probe := e.Probe(ctx, path)

	// Rule 1: declared extension disagrees with detected signature.
	if d.DetectedFormat != "" && canonicalFormat(ext) != "" && canonicalFormat(ext) != d.DetectedFormat {
		d.Issues = append(d.Issues,
			fmt.Sprintf("File extension %s does not match detected format %s", ext, d.DetectedFormat))
		d.Suggestions = append(d.Suggestions,
			fmt.Sprintf("Rename the file with a .%s extension to match its real format", d.DetectedFormat))
	}

	// Rule 2: decoder reported stream corruption.
	if containsAny(strings.ToLower(decodeErr), corruptionMarkers) {
		d.Issues = append(d.Issues, "File appears corrupted or incomplete")
		d.Suggestions = append(d.Suggestions,
			"Re-export the audio from the original source",
			"Re-convert the file with ffmpeg: ffmpeg -i input output.wav",
			"Verify the file plays in a media player",
		)
	}

	// Rule 3: size bounds.
	if size <= emptyThreshold {
		d.Issues = append(d.Issues, "File is empty or nearly empty")
	} else if size < suspiciousThreshold {
		d.Issues = append(d.Issues, "File is suspiciously small for an audio recording")
	}

	// Rule 4: the probe tool itself reported damage.
	if probe.Err != "" && containsAny(strings.ToLower(probe.Err), probeErrorMarkers) {
		d.Issues = append(d.Issues, fmt.Sprintf("Audio probe failed: %s", probe.Err))
	}

	// Rule 5: fallback so the caller is never left without guidance.
	if len(d.Issues) == 0 {
		d.Issues = append(d.Issues, "File could not be decoded as audio")
	}
	if len(d.Suggestions) == 0 {
		d.Suggestions = append(d.Suggestions,
			"Convert the file to WAV with ffmpeg: ffmpeg -i input output.wav",
			"Check that the file is an audio recording and not a different media type",
		)
	}

	return d
}

// Probe shells out to ffprobe for stream details. Failures degrade into
// the Err field.
func (e *Engine) Probe(ctx context.Context, path string) ProbeInfo {
	if _, err := e.lookPath(e.probeBin); err != nil {
		return ProbeInfo{Err: fmt.Sprintf("probe tool %s not found", e.probeBin), ToolMissing: true}
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	result, err := e.runner.Run(probeCtx, e.probeBin, nil, args...)
	if err != nil {
		detail := strings.TrimSpace(result.Stderr)
		if detail == "" {
			detail = err.Error()
		}
		return ProbeInfo{Err: detail}
	}

	var parsed struct {
		Streams []struct {
			CodecName  string `json:"codec_name"`
			SampleRate string `json:"sample_rate"`
			Channels   int    `json:"channels"`
			BitRate    string `json:"bit_rate"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal([]byte(result.Stdout), &parsed); err != nil {
		return ProbeInfo{Err: fmt.Sprintf("unparseable probe output: %v", err)}
	}

	info := ProbeInfo{}
	if len(parsed.Streams) > 0 {
		s := parsed.Streams[0]
		info.Codec = s.CodecName
		info.SampleRate = s.SampleRate
		info.Channels = s.Channels
		info.BitRate = s.BitRate
	}
	if parsed.Format.Duration != "" {
		fmt.Sscanf(parsed.Format.Duration, "%f", &info.Duration)
	}

	return info
}

var corruptionMarkers = []string{
	"truncat",
	"corrupt",
	"invalid data",
	"incomplete",
	"unexpected end",
	"end of file",
	"moov atom not found",
}

var probeErrorMarkers = []string{
	"invalid",
	"corrupt",
	"not found",
	"no such file",
}

func containsAny(s string, markers []string) bool {
	if s == "" {
		return false
	}
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// detectFormat matches the file header against known magic-byte
// signatures, independent of the declared extension.
func detectFormat(head []byte) string {
	switch {
	case len(head) >= 12 && bytes.Equal(head[:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WAVE")):
		return "wav"
	case len(head) >= 3 && bytes.Equal(head[:3], []byte("ID3")):
		return "mp3"
	case len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0:
		return "mp3"
	case len(head) >= 4 && bytes.Equal(head[:4], []byte("fLaC")):
		return "flac"
	case len(head) >= 4 && bytes.Equal(head[:4], []byte("OggS")):
		return "ogg"
	case len(head) >= 12 && bytes.Equal(head[4:8], []byte("ftyp")):
		return "m4a"
	default:
		return ""
	}
}

// canonicalFormat maps a declared extension to the format name detection
// would report for it.
func canonicalFormat(ext string) string {
	switch ext {
	case ".wav":
		return "wav"
	case ".mp3":
		return "mp3"
	case ".flac":
		return "flac"
	case ".ogg":
		return "ogg"
	case ".m4a", ".aac", ".mp4":
		return "m4a"
	default:
		return ""
	}
}
