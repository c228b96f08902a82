package observability

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// EventType defines the category of a log event.
type EventType string

const (
	EventTypeCommand   EventType = "command"
	EventTypeMilestone EventType = "milestone"
	EventTypeSweep     EventType = "sweep"
	EventTypeDelivery  EventType = "delivery"
	EventTypeIngest    EventType = "ingest"
	EventTypeHeartbeat EventType = "heartbeat"
	EventTypeAccess    EventType = "access"
)

// Event tags a log line with its category.
func Event(t EventType) zap.Field {
	return zap.String("event", string(t))
}

// NewLogger builds the process logger. Format "json" always writes JSON,
// "console" always writes human-readable lines, and "auto" picks console
// when stderr is a terminal.
func NewLogger(level, format string) (*zap.Logger, error) {
	lvl := zap.NewAtomicLevelAt(zap.InfoLevel)
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	var cfg zap.Config
	switch format {
	case "console":
		cfg = zap.NewDevelopmentConfig()
	case "json", "":
		cfg = zap.NewProductionConfig()
	case "auto":
		if term.IsTerminal(int(os.Stderr.Fd())) {
			cfg = zap.NewDevelopmentConfig()
		} else {
			cfg = zap.NewProductionConfig()
		}
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	cfg.Level = lvl
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
