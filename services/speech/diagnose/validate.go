package diagnose

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/voxkit/backend/pkg/logger"
	"github.com/voxkit/backend/services/speech/entity"
)

// SupportedExtensions is the upload allow-list, lowercase with dots.
var SupportedExtensions = []string{".wav", ".mp3", ".m4a", ".flac", ".ogg", ".aac", ".wma"}

func extensionSupported(ext string) bool {
	for _, s := range SupportedExtensions {
		if s == ext {
			return true
		}
	}
	return false
}

// ValidateUpload applies the synchronous pre-job checks that never need
// file content: empty upload, size bound, extension allow-list. These run
// before a job record exists, so failures surface directly to the caller.
func ValidateUpload(filename string, size int64, maxSizeMB int64) error {
	if size == 0 {
		return entity.NewFileValidationError(
			"Empty file received",
			"The uploaded file contains no data.",
			[]string{
				"Try uploading the file again",
				"Check that the file is accessible on your system",
			},
		)
	}

	sizeMB := float64(size) / (1024 * 1024)
	if maxSizeMB > 0 && size > maxSizeMB*1024*1024 {
		return entity.NewFileValidationError(
			"File too large",
			fmt.Sprintf("File size is %.1fMB, maximum allowed is %dMB", sizeMB, maxSizeMB),
			[]string{
				"Compress the audio file before uploading",
				"Split the audio into smaller segments",
				"Use a lower quality encoding",
			},
		)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !extensionSupported(ext) {
		return entity.NewFileValidationError(
			fmt.Sprintf("Unsupported file format: %s", ext),
			fmt.Sprintf("The file extension %s is not supported", ext),
			[]string{
				"Convert to a supported format: " + strings.Join(SupportedExtensions, ", "),
				"Use ffmpeg to convert: ffmpeg -i input_file output.wav",
			},
		)
	}

	return nil
}

// Validate checks a stored file is actually decodable audio. On failure it
// builds a full diagnosis and returns it as a FILE_VALIDATION_ERROR. When
// the probe tool itself is missing the check degrades and the upload is
// accepted; real decode errors then surface from the recognition stage.
func (e *Engine) Validate(ctx context.Context, path string) error {
	probe := e.Probe(ctx, path)
	if probe.ToolMissing {
		logger.Warn(ctx, "audio probe tool unavailable, skipping readability check", "tool", e.probeBin)
		return nil
	}
	if probe.Err == "" && probe.Codec != "" {
		return nil
	}

	d := e.Diagnose(ctx, path, probe.Err)
	return entity.NewFileValidationError(
		"Cannot read audio file",
		strings.Join(d.Issues, "; "),
		d.Suggestions,
	)
}
