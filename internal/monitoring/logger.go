package monitoring

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

// Logger provides enhanced structured logging with context
type Logger struct {
	*slog.Logger
	out io.Writer
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a JSON logger writing to w. A nil w means stdout.
func NewLogger(w io.Writer, level slog.Level) *Logger {
	if w == nil {
		w = os.Stdout
	}
	return &Logger{Logger: slog.New(newHandler(w, level)), out: w}
}

func newHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Add timestamp in RFC3339 format
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{
					Key:   "timestamp",
					Value: slog.StringValue(a.Value.Time().Format(time.RFC3339)),
				}
			}
			return a
		},
	})
}

// RequestLogger logs HTTP request details
func (l *Logger) RequestLogger(method, path, ip, userAgent string, statusCode int, duration time.Duration) {
	l.Info("HTTP Request",
		"method", method,
		"path", path,
		"ip", ip,
		"user_agent", userAgent,
		"status_code", statusCode,
		"duration_ms", duration.Milliseconds(),
	)
}

// APIErrorLogger logs API errors with context
func (l *Logger) APIErrorLogger(err error, method, path, ip string, statusCode int) {
	_, file, line, ok := runtime.Caller(2)
	caller := "unknown"
	if ok {
		caller = fmt.Sprintf("%s:%d", file, line)
	}

	l.Error("API Error",
		"error", err.Error(),
		"method", method,
		"path", path,
		"ip", ip,
		"status_code", statusCode,
		"caller", caller,
	)
}

// FileScored logs the outcome of scoring one dataset file.
func (l *Logger) FileScored(file, phase string, records, skipped, high int, duration time.Duration) {
	l.Info("Dataset Scored",
		"file", file,
		"phase", phase,
		"records", records,
		"skipped_rows", skipped,
		"high_risk", high,
		"duration_ms", duration.Milliseconds(),
	)
}

// FileFailed logs a dataset file that could not be scored.
func (l *Logger) FileFailed(file, phase string, err error) {
	l.Warn("Dataset Failed",
		"file", file,
		"phase", phase,
		"error", err.Error(),
	)
}

// TrainingCompleted logs a successful training run.
func (l *Logger) TrainingCompleted(version, model string, rocAUC, f1 float64, samples int, duration time.Duration) {
	l.Info("Training Completed",
		"version", version,
		"model", model,
		"roc_auc", rocAUC,
		"f1", f1,
		"samples", samples,
		"duration_ms", duration.Milliseconds(),
	)
}

// TrainingFailed logs an aborted training run.
func (l *Logger) TrainingFailed(err error, samples int) {
	l.Error("Training Failed",
		"error", err.Error(),
		"samples", samples,
	)
}

// PredictionServed logs a prediction call.
func (l *Logger) PredictionServed(kind string, records int, version string, duration time.Duration) {
	l.Log(context.Background(), slog.LevelDebug, "Prediction Served",
		"kind", kind,
		"records", records,
		"model_version", version,
		"duration_ms", duration.Milliseconds(),
	)
}

// SecurityLogger logs security-related events
func (l *Logger) SecurityLogger(event, ip, userAgent string, details map[string]interface{}) {
	attrs := []any{
		"event", event,
		"ip", ip,
		"user_agent", userAgent,
	}

	for key, value := range details {
		attrs = append(attrs, key, value)
	}

	l.Warn("Security Event", attrs...)
}

// SystemLogger logs system-level events
func (l *Logger) SystemLogger(event, details string) {
	l.Info("System Event",
		"event", event,
		"details", details,
		"uptime", time.Since(startTime).String(),
	)
}

// PerformanceLogger logs performance metrics
func (l *Logger) PerformanceLogger(metric string, value float64, unit string) {
	l.Info("Performance Metric",
		"metric", metric,
		"value", value,
		"unit", unit,
	)
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level slog.Level) {
	l.Logger = slog.New(newHandler(l.out, level))
}

var startTime = time.Now()
