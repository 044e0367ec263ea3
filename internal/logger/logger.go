package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"drift_spider/internal/config"
)

func InitLogger(cfg *config.SpiderConfig) {
	slog.SetDefault(New(cfg, os.Stderr))
}

func New(cfg *config.SpiderConfig, w io.Writer) *slog.Logger {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	opts := &slog.HandlerOptions{
		Level: ParseLevel(cfg.Logging.Level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Only use bunyan levels if JSON
			if a.Key == slog.LevelKey && cfg.Logging.Format != "text" {
				level := a.Value.Any().(slog.Level)
				return slog.Int(a.Key, bunyanLevel(level))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler).With(
		"name", "drift_spider",
		"pid", os.Getpid(),
		"hostname", hostname,
	)
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func bunyanLevel(level slog.Level) int {
	switch {
	case level >= slog.LevelError:
		return 50
	case level >= slog.LevelWarn:
		return 40
	case level >= slog.LevelInfo:
		return 30
	case level >= slog.LevelDebug:
		return 20
	default:
		return 10
	}
}
