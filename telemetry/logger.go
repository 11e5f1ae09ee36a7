package telemetry

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTELHook adds trace and span IDs to every log entry
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// Logger wraps zerolog with OTEL integration
type Logger struct {
	zerolog.Logger
}

// LoggerOptions controls logger construction
type LoggerOptions struct {
	Service string
	Level   string // debug, info, warn, error
	Format  string // json or console
	Writer  io.Writer
}

// NewLoggerWithOptions creates a logger from explicit options
func NewLoggerWithOptions(opts LoggerOptions) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	if strings.EqualFold(opts.Format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", opts.Service).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// WithContext returns a logger with context (for trace propagation)
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// Convenience methods for scan and store operations

func (l *Logger) LogScanStarted(ctx context.Context, scanID string) {
	l.WithContext(ctx).Info().
		Str("scan_id", scanID).
		Str("operation", "scan").
		Msg("starting scan")
}

func (l *Logger) LogScanCompleted(ctx context.Context, scanID string, resources, findings int, durationMs float64) {
	l.WithContext(ctx).Info().
		Str("scan_id", scanID).
		Int("resources_scanned", resources).
		Int("findings_created", findings).
		Float64("duration_ms", durationMs).
		Str("operation", "scan").
		Msg("scan completed")
}

func (l *Logger) LogRuleSkipped(ctx context.Context, ruleID, op string) {
	l.WithContext(ctx).Warn().
		Str("rule_id", ruleID).
		Str("op", op).
		Str("operation", "scan").
		Msg("skipping rule with unsupported operator")
}

func (l *Logger) LogResourceSkipped(ctx context.Context, resourceID string, err error) {
	l.WithContext(ctx).Warn().
		Err(err).
		Str("resource_id", resourceID).
		Str("operation", "scan").
		Msg("skipping unreadable resource")
}

func (l *Logger) LogBatchOperation(ctx context.Context, operation, collection string, batchSize int) {
	l.WithContext(ctx).Info().
		Str("operation", operation).
		Str("collection", collection).
		Int("batch_size", batchSize).
		Msg("processing batch")
}

func (l *Logger) LogStorageError(ctx context.Context, operation string, err error) {
	l.WithContext(ctx).Error().
		Err(err).
		Str("operation", operation).
		Msg("storage operation failed")
}
