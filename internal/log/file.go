package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

// NewFileHandler writes to time-rotated files named FilePath.YYYYMMDDHH,
// with FilePath itself kept as a symlink to the current file. The returned
// closer releases the open file.
func NewFileHandler(cfg *Config, level slog.Level) (slog.Handler, io.Closer, error) {
	dir := filepath.Dir(cfg.FilePath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
	}

	rotation := time.Duration(cfg.RotationHours) * time.Hour
	if rotation <= 0 {
		rotation = 24 * time.Hour
	}
	maxAge := time.Duration(cfg.MaxAgeDays) * 24 * time.Hour
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}

	w, err := rotatelogs.New(
		cfg.FilePath+".%Y%m%d%H",
		rotatelogs.WithLinkName(cfg.FilePath),
		rotatelogs.WithRotationTime(rotation),
		rotatelogs.WithMaxAge(maxAge),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return newHandler(w, cfg.Format, level), w, nil
}
