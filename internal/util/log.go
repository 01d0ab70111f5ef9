package util

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger writes JSON lines to stdout at level, falling back to info.
func NewLogger(level string) zerolog.Logger {
	return newLogger(os.Stdout, level)
}

// NewFileLogger writes to stdout and to a size-rotated file at path. An empty path behaves like NewLogger.
func NewFileLogger(level, path string) (zerolog.Logger, io.Closer) {
	if path == "" {
		return NewLogger(level), io.NopCloser(nil)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log := NewLogger(level)
		log.Warn().Err(err).Str("path", path).Msg("log directory unavailable, logging to stdout only")
		return log, io.NopCloser(nil)
	}
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     14,
		Compress:   true,
	}
	return newLogger(zerolog.MultiLevelWriter(os.Stdout, file), level), file
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(lvl)
}
