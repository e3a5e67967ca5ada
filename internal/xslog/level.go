package xslog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

type Level string

var _ fmt.Stringer = (*Level)(nil)

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

const EnvKey = "LOG_LEVEL"

const Default = LevelInfo

var slogLevels = map[Level]slog.Level{
	LevelDebug: slog.LevelDebug,
	LevelInfo:  slog.LevelInfo,
	LevelWarn:  slog.LevelWarn,
	LevelError: slog.LevelError,
}

func Parse(s string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := slogLevels[l]; !ok {
		return "", fmt.Errorf("invalid log level: %q (valid: debug, info, warn, error)", s)
	}
	return l, nil
}

// FromEnv reads LOG_LEVEL. An invalid value yields Default and the parse
// error so the caller can log it once the logger exists.
func FromEnv() (Level, error) {
	s := os.Getenv(EnvKey)
	if s == "" {
		return Default, nil
	}
	level, err := Parse(s)
	if err != nil {
		return Default, err
	}
	return level, nil
}

func (l Level) ToSlog() slog.Level {
	if sl, ok := slogLevels[l]; ok {
		return sl
	}
	return slog.LevelInfo
}

func (l Level) String() string {
	return string(l)
}

// NewLogger returns a JSON logger tagged with the build version.
func NewLogger(w io.Writer, level Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level.ToSlog(),
	})).With(Version())
}

func NewLoggerFromEnv(w io.Writer) *slog.Logger {
	level, err := FromEnv()
	logger := NewLogger(w, level)
	if err != nil {
		logger.Warn("ignoring "+EnvKey, Error(err))
	}
	return logger
}
