package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"github.com/godamri/helix-audit/pkg/telemetry"
)

type Config struct {
	Level   string `envconfig:"LOG_LEVEL" yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format  string `envconfig:"LOG_FORMAT" yaml:"format" default:"json" validate:"oneof=json console"`
	Service string `envconfig:"LOG_SERVICE" yaml:"service" default:"helix-audit"`
}

// New builds the process logger. Records carry trace, request and actor ids
// taken from the context they are logged with.
func New(cfg Config) *slog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

func NewWithWriter(cfg Config, w io.Writer) *slog.Logger {
	level := ParseLevel(cfg.Level)

	var handler slog.Handler
	if cfg.Format == "console" {
		// Pretty Print for Local Development
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: level,
		})
	}

	logger := slog.New(telemetry.NewOTelHandler(handler))
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	return logger
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
