package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "chain-risk-scorer"

// Logger wraps zap logger with additional functionality
type Logger struct {
	*zap.Logger
}

// NewLogger creates a JSON logger at the given level, falling back to info.
// Sampling is off so every scoring decision reaches the sink.
func NewLogger(level string) (*Logger, error) {
	config := zap.NewProductionConfig()

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.Sampling = nil
	config.InitialFields = map[string]interface{}{"service": serviceName}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{Logger: logger}, nil
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// WithComponent adds a component field to the logger
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With(zap.String("component", component))}
}

// WithEvent tags every entry with the event being scored
func (l *Logger) WithEvent(traceID, txHash string, chainID int64) *Logger {
	return &Logger{Logger: l.Logger.With(
		zap.String("trace_id", traceID),
		zap.String("hash", txHash),
		zap.Int64("chain_id", chainID),
	)}
}
