package logging

import (
	"io"
	"log"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
)

// serviceName is attached to every log entry.
const serviceName = "graylogic-node"

// Logger wraps a zap logger with Gray Logic-specific functionality.
//
// It provides structured key/value logging with default fields and
// level-based filtering.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	core  *zap.Logger
	sugar *zap.SugaredLogger
}

// New creates a new Logger with the specified configuration.
//
// It configures:
//   - Output format (JSON for production, console text for development)
//   - Log level filtering
//   - Default fields (service name, version)
//   - Output destination
//
// Parameters:
//   - cfg: Logging configuration from config.yaml
//   - version: Application version for default field
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}

	return newWithWriter(cfg, version, output)
}

// newWithWriter builds the zap core on an arbitrary writer.
func newWithWriter(cfg config.LoggingConfig, version string, output io.Writer) *Logger {
	encoderConfig := zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "level",
		TimeKey:        "time",
		NameKey:        "logger",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "text":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(output)), parseLevel(cfg.Level))
	zl := zap.New(core).With(
		zap.String("service", serviceName),
		zap.String("version", version),
	)

	return &Logger{core: zl, sugar: zl.Sugar()}
}

// parseLevel converts a string log level to a zap level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Debug logs a message with key/value pairs at debug level.
func (l *Logger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }

// Info logs a message with key/value pairs at info level.
func (l *Logger) Info(msg string, args ...any) { l.sugar.Infow(msg, args...) }

// Warn logs a message with key/value pairs at warn level.
func (l *Logger) Warn(msg string, args ...any) { l.sugar.Warnw(msg, args...) }

// Error logs a message with key/value pairs at error level.
func (l *Logger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }

// With returns a new Logger with additional default attributes.
//
// Example:
//
//	mqttLogger := logger.With("component", "mqtt")
//	mqttLogger.Info("connected") // Includes component=mqtt
func (l *Logger) With(args ...any) *Logger {
	sugar := l.sugar.With(args...)
	return &Logger{core: sugar.Desugar(), sugar: sugar}
}

// StdLog returns a standard library logger that writes into this logger at
// the given level. Third-party libraries that only accept *log.Logger
// (or Println/Printf loggers) are routed through it.
func (l *Logger) StdLog(level zapcore.Level) *log.Logger {
	std, err := zap.NewStdLogAt(l.core, level)
	if err != nil {
		return zap.NewStdLog(l.core)
	}
	return std
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	return l.core.Sync()
}

// Default creates a default logger for use before configuration is loaded.
//
// This logger outputs to stdout in JSON format at info level.
// It should only be used during early startup before config is available.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}

// Nop returns a logger that discards everything. Intended for tests.
func Nop() *Logger {
	zl := zap.NewNop()
	return &Logger{core: zl, sugar: zl.Sugar()}
}
