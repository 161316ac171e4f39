// Package log configures process-wide logging.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	charmlog "charm.land/log/v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup builds the process logger. With a file, JSON records are written to
// a rotating log file; otherwise human-readable records go to stderr. The
// returned closer flushes and closes the file, if any.
func Setup(file string, debug bool) (*slog.Logger, io.Closer, error) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	if file == "" {
		logger := charmlog.New(os.Stderr)
		logger.SetReportTimestamp(true)
		logger.SetTimeFormat(time.Kitchen)
		if debug {
			logger.SetLevel(charmlog.DebugLevel)
		}
		return slog.New(logger), nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(file), 0o700); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	w := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     30, // days
		Compress:   false,
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler), w, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// RecoverPanic logs a recovered panic with its stack and runs cleanup. It
// must be deferred directly.
func RecoverPanic(name string, cleanup func()) {
	if r := recover(); r != nil {
		slog.Error("Recovered from panic", "name", name, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		if cleanup != nil {
			cleanup()
		}
	}
}
