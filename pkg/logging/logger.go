package logging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// String returns string representation of log level
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	case FatalLevel:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel maps a configuration string to a LogLevel, defaulting to InfoLevel.
func ParseLevel(s string) LogLevel {
	switch s {
	case "debug", "DEBUG":
		return DebugLevel
	case "warn", "warning", "WARN", "WARNING":
		return WarnLevel
	case "error", "ERROR":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Fields represents structured log fields
type Fields map[string]interface{}

type ctxKey string

const runIDKey ctxKey = "run_id"

// WithRunID tags every line logged with ctx with the given run identifier.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// Options configures the sinks of a StructuredLogger.
type Options struct {
	Service string
	Version string
	Level   LogLevel

	// Dir receives std_out.log (Level and above) and std_err.log (errors only).
	// Empty disables file output.
	Dir       string
	MaxSizeMB int

	// Console writes Level and above to stdout and errors to stderr.
	Console bool
	Stdout  io.Writer
	Stderr  io.Writer
}

// StructuredLogger provides leveled structured logging with context
type StructuredLogger struct {
	zl      *zap.Logger
	service string
	version string
	closers []io.Closer
}

// New builds a logger that tees into the file and console sinks described by opts.
func New(opts Options) *StructuredLogger {
	min := opts.Level.zapLevel()
	atLeast := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= min })
	errorsOnly := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= zapcore.ErrorLevel && l >= min })

	fileEnc := zapcore.NewJSONEncoder(encoderConfig())
	consoleCfg := encoderConfig()
	consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	consoleEnc := zapcore.NewConsoleEncoder(consoleCfg)

	var cores []zapcore.Core
	var closers []io.Closer

	if opts.Dir != "" {
		size := opts.MaxSizeMB
		if size <= 0 {
			size = 10
		}
		out := &lumberjack.Logger{Filename: filepath.Join(opts.Dir, "std_out.log"), MaxSize: size}
		errs := &lumberjack.Logger{Filename: filepath.Join(opts.Dir, "std_err.log"), MaxSize: size}
		closers = append(closers, out, errs)
		cores = append(cores,
			zapcore.NewCore(fileEnc, zapcore.AddSync(out), atLeast),
			zapcore.NewCore(fileEnc, zapcore.AddSync(errs), errorsOnly),
		)
	}

	if opts.Console {
		stdout, stderr := opts.Stdout, opts.Stderr
		if stdout == nil {
			stdout = os.Stdout
		}
		if stderr == nil {
			stderr = os.Stderr
		}
		cores = append(cores,
			zapcore.NewCore(consoleEnc, zapcore.Lock(zapcore.AddSync(stdout)), atLeast),
			zapcore.NewCore(consoleEnc, zapcore.Lock(zapcore.AddSync(stderr)), errorsOnly),
		)
	}

	l := NewWithCore(zapcore.NewTee(cores...), opts.Service, opts.Version)
	l.closers = closers
	return l
}

// NewWithCore wraps an existing zap core, mostly for tests using zaptest/observer.
func NewWithCore(core zapcore.Core, service, version string) *StructuredLogger {
	hostname, _ := os.Hostname()

	zl := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2), zap.AddStacktrace(zapcore.FatalLevel)).With(
		zap.String("service", service),
		zap.String("version", version),
		zap.String("hostname", hostname),
	)

	return &StructuredLogger{zl: zl, service: service, version: version}
}

// NewNop returns a logger that discards everything.
func NewNop() *StructuredLogger {
	return NewWithCore(zapcore.NewNopCore(), "nop", "0")
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.MessageKey = "message"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

// Sync flushes buffered entries and closes rotated files.
func (l *StructuredLogger) Sync() error {
	err := l.zl.Sync()
	for _, c := range l.closers {
		c.Close()
	}
	return err
}

// Debug logs a debug message with structured fields
func (l *StructuredLogger) Debug(ctx context.Context, message string, fields Fields) {
	l.log(ctx, DebugLevel, message, fields, nil)
}

// Info logs an info message with structured fields
func (l *StructuredLogger) Info(ctx context.Context, message string, fields Fields) {
	l.log(ctx, InfoLevel, message, fields, nil)
}

// Warn logs a warning message with structured fields
func (l *StructuredLogger) Warn(ctx context.Context, message string, fields Fields) {
	l.log(ctx, WarnLevel, message, fields, nil)
}

// Error logs an error message with structured fields and error details
func (l *StructuredLogger) Error(ctx context.Context, message string, fields Fields, err error) {
	l.log(ctx, ErrorLevel, message, fields, err)
}

// Fatal logs a fatal message and exits the program
func (l *StructuredLogger) Fatal(ctx context.Context, message string, fields Fields, err error) {
	l.log(ctx, FatalLevel, message, fields, err)
}

func (l *StructuredLogger) log(ctx context.Context, level LogLevel, message string, fields Fields, err error) {
	ce := l.zl.Check(level.zapLevel(), message)
	if ce == nil {
		return
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	zf := make([]zap.Field, 0, len(keys)+2)
	for _, k := range keys {
		zf = append(zf, zap.Any(k, fields[k]))
	}

	if ctx != nil {
		if runID, ok := ctx.Value(runIDKey).(string); ok {
			zf = append(zf, zap.String("run_id", runID))
		}
	}

	if err != nil {
		zf = append(zf, zap.Error(err))
	}

	ce.Write(zf...)
}

// WithFields creates a new logger with additional fields
func (l *StructuredLogger) WithFields(fields Fields) *ContextLogger {
	return &ContextLogger{
		logger: l,
		fields: fields,
	}
}

// ContextLogger wraps StructuredLogger with additional context fields
type ContextLogger struct {
	logger *StructuredLogger
	fields Fields
}

func (c *ContextLogger) Debug(ctx context.Context, message string, fields Fields) {
	c.logger.log(ctx, DebugLevel, message, c.mergeFields(fields), nil)
}

func (c *ContextLogger) Info(ctx context.Context, message string, fields Fields) {
	c.logger.log(ctx, InfoLevel, message, c.mergeFields(fields), nil)
}

func (c *ContextLogger) Warn(ctx context.Context, message string, fields Fields) {
	c.logger.log(ctx, WarnLevel, message, c.mergeFields(fields), nil)
}

func (c *ContextLogger) Error(ctx context.Context, message string, fields Fields, err error) {
	c.logger.log(ctx, ErrorLevel, message, c.mergeFields(fields), err)
}

// mergeFields merges context fields with provided fields
func (c *ContextLogger) mergeFields(fields Fields) Fields {
	merged := make(Fields, len(c.fields)+len(fields))

	for k, v := range c.fields {
		merged[k] = v
	}

	// Override with provided fields
	for k, v := range fields {
		merged[k] = v
	}

	return merged
}
