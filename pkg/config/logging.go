package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/marmos91/dittofs-ntfs/internal/logger"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// logFile points the logger back at stderr before closing the file.
type logFile struct {
	*os.File
}

func (l logFile) Close() error {
	logger.SetOutput(os.Stderr)
	return l.File.Close()
}

// ConfigureLogging applies the logging section to the process logger.
//
// Output "stdout" and "stderr" select the standard streams; anything else is
// a file path opened for appending (parent directories are created).
//
// Returns:
//   - io.Closer: Closes the log file, if one was opened, and restores stderr
//   - error: If the log file cannot be opened
func ConfigureLogging(cfg *LoggingConfig) (io.Closer, error) {
	var (
		w      io.Writer
		closer io.Closer = nopCloser{}
	)

	switch cfg.Output {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Output), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.Output, err)
		}
		w = f
		closer = logFile{f}
	}

	logger.SetOutput(w)
	logger.SetLevel(cfg.Level)
	logger.SetFormat(cfg.Format)

	return closer, nil
}
