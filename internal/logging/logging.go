// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

// Config selects how logs are written
type Config struct {
	Level       string
	Format      string // text or json
	ServiceName string

	// OTLP also sends records to the global OpenTelemetry logger provider
	OTLP bool
}

// ParseLevel maps a level name to a slog.Level
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
	return l, nil
}

// New builds a logger writing to w. DEBUG or WHYDAH_DEBUG in the
// environment force debug level.
func New(w io.Writer, cfg Config) (*slog.Logger, error) {
	level := slog.LevelInfo
	if cfg.Level != "" {
		var err error
		if level, err = ParseLevel(cfg.Level); err != nil {
			return nil, err
		}
	}
	if os.Getenv("DEBUG") != "" || os.Getenv("WHYDAH_DEBUG") != "" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	name := cfg.ServiceName
	if name == "" {
		name = "whydah"
	}

	if cfg.OTLP {
		handler = slogmulti.Fanout(handler, otelslog.NewHandler(name))
	}

	return slog.New(handler).With(slog.String("service", name)), nil
}
