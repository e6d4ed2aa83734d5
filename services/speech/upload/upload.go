package upload

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/voxkit/backend/pkg/gen"
	"github.com/voxkit/backend/services/speech/entity"
)

const maxStemLength = 50

// UniqueFilename builds a collision-free stored name that keeps the
// original extension and a truncated stem for readability.
func UniqueFilename(ids gen.UUIDGenerator, original string) string {
	ext := filepath.Ext(original)
	stem := strings.TrimSuffix(filepath.Base(original), ext)
	if len(stem) > maxStemLength {
		stem = stem[:maxStemLength]
	}
	return fmt.Sprintf("%s_%s%s", ids.ShortID(), stem, ext)
}

// Save streams an upload to disk under dir, creating the directory when
// needed, and returns the stored path.
func Save(r io.Reader, dir, filename string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", entity.NewFileValidationError(
			"Failed to save uploaded file",
			fmt.Sprintf("cannot create upload directory: %v", err),
			nil,
		)
	}

	path := filepath.Join(dir, filename)
	f, err := os.Create(path)
	if err != nil {
		return "", entity.NewFileValidationError(
			"Failed to save uploaded file",
			err.Error(),
			nil,
		)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return "", entity.NewFileValidationError(
			"Failed to save uploaded file",
			err.Error(),
			nil,
		)
	}

	return path, nil
}

// Cleanup removes a stored file, tolerating it already being gone.
func Cleanup(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}

// CleanupOld deletes files in dir older than maxAge and reports how many
// were removed. Errors are logged and skipped; missing directories count
// as empty.
func CleanupOld(dir string, maxAge time.Duration, log *slog.Logger) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	deleted := 0
	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				log.Warn("failed to remove stale upload", "file", e.Name(), "error", err)
				continue
			}
			deleted++
		}
	}

	if deleted > 0 {
		log.Info("cleaned up stale uploads", "dir", dir, "deleted", deleted)
	}
	return deleted
}
