package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vitos/crypto_trend_engine/internal/domain"
)

func NewLogger(level string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()

	// Parse level
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		l = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(l)

	return config.Build()
}

// NewFileLogger writes JSON logs to the given path in addition to stderr.
func NewFileLogger(level, path string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()

	l, err := zapcore.ParseLevel(level)
	if err != nil {
		l = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(l)
	config.OutputPaths = []string{"stderr", path}

	return config.Build()
}

// EventLogger satisfies domain.Notifier by emitting events as structured
// log lines. Notify never blocks.
type EventLogger struct {
	logger *zap.Logger
}

func NewEventLogger(logger *zap.Logger) *EventLogger {
	return &EventLogger{logger: logger.Named("events")}
}

func (e *EventLogger) Notify(ev domain.Event) {
	fields := []zap.Field{
		zap.String("category", ev.Category),
	}
	if ev.Symbol != "" {
		fields = append(fields, zap.String("symbol", ev.Symbol))
	}
	if len(ev.Context) > 0 {
		fields = append(fields, zap.Any("context", ev.Context))
	}

	switch ev.Level {
	case "error":
		e.logger.Error(ev.Message, fields...)
	case "warn":
		e.logger.Warn(ev.Message, fields...)
	default:
		e.logger.Info(ev.Message, fields...)
	}
}
