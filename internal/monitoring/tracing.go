package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader carries the trace id of an HTTP request.
const RequestIDHeader = "X-Request-ID"

// RequestIDKey is the gin context key holding the request's trace id.
const RequestIDKey = "request_id"

type spanKey struct{}

// SpanStatus represents the status of a span
type SpanStatus string

const (
	SpanStatusOK    SpanStatus = "ok"
	SpanStatusError SpanStatus = "error"
)

// Span is one timed operation. Nested spans share the trace id of their
// parent.
type Span struct {
	TraceID   string            `json:"trace_id"`
	SpanID    string            `json:"span_id"`
	ParentID  string            `json:"parent_id,omitempty"`
	Operation string            `json:"operation"`
	StartTime time.Time         `json:"start_time"`
	Duration  time.Duration     `json:"duration"`
	Tags      map[string]string `json:"tags,omitempty"`
	Status    SpanStatus        `json:"status"`
	Error     string            `json:"error,omitempty"`
}

// Tracer emits spans as structured log lines.
type Tracer struct {
	serviceName string
	logger      *Logger
}

// NewTracer creates a new tracer instance
func NewTracer(serviceName string, logger *Logger) *Tracer {
	return &Tracer{serviceName: serviceName, logger: logger}
}

// SpanOption configures a span at start.
type SpanOption func(*Span)

// WithTag sets a tag on the span
func WithTag(key, value string) SpanOption {
	return func(s *Span) { s.Tags[key] = value }
}

// WithTraceID forces the trace id, e.g. one supplied by the caller.
func WithTraceID(id string) SpanOption {
	return func(s *Span) {
		if id != "" {
			s.TraceID = id
		}
	}
}

// StartSpan starts a span, nested under any span already in ctx.
func (t *Tracer) StartSpan(ctx context.Context, operation string, opts ...SpanOption) (*Span, context.Context) {
	span := &Span{
		SpanID:    uuid.NewString(),
		Operation: operation,
		StartTime: time.Now(),
		Tags:      make(map[string]string),
		Status:    SpanStatusOK,
	}
	if parent := SpanFromContext(ctx); parent != nil {
		span.TraceID = parent.TraceID
		span.ParentID = parent.SpanID
	} else {
		span.TraceID = uuid.NewString()
	}
	for _, opt := range opts {
		opt(span)
	}
	return span, context.WithValue(ctx, spanKey{}, span)
}

// EndSpan closes the span and logs it.
func (t *Tracer) EndSpan(span *Span, err error) {
	span.Duration = time.Since(span.StartTime)
	if err != nil {
		span.Status = SpanStatusError
		span.Error = err.Error()
	}

	attrs := []any{
		"service", t.serviceName,
		"trace_id", span.TraceID,
		"span_id", span.SpanID,
		"operation", span.Operation,
		"status", span.Status,
		"duration_ms", span.Duration.Milliseconds(),
	}
	if span.ParentID != "" {
		attrs = append(attrs, "parent_id", span.ParentID)
	}
	if span.Error != "" {
		attrs = append(attrs, "error", span.Error)
	}
	for k, v := range span.Tags {
		attrs = append(attrs, fmt.Sprintf("tag_%s", k), v)
	}
	t.logger.Info("Trace Span", attrs...)
}

// SpanFromContext returns the active span, if any.
func SpanFromContext(ctx context.Context) *Span {
	if span, ok := ctx.Value(spanKey{}).(*Span); ok {
		return span
	}
	return nil
}

// TraceFunction runs fn inside a span.
func TraceFunction(ctx context.Context, tracer *Tracer, operation string, fn func(context.Context) error) error {
	span, spanCtx := tracer.StartSpan(ctx, operation)
	err := fn(spanCtx)
	tracer.EndSpan(span, err)
	return err
}

// TracingMiddleware wraps each request in a span. The trace id is taken from
// an incoming X-Request-ID header when present, echoed back in the response,
// and stored under RequestIDKey for error logging.
func TracingMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		operation := fmt.Sprintf("%s %s", c.Request.Method, c.FullPath())
		span, ctx := tracer.StartSpan(c.Request.Context(), operation,
			WithTraceID(c.GetHeader(RequestIDHeader)),
			WithTag("http.method", c.Request.Method),
			WithTag("client_ip", c.ClientIP()),
		)

		c.Set(RequestIDKey, span.TraceID)
		c.Header(RequestIDHeader, span.TraceID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		span.Tags["http.status_code"] = fmt.Sprintf("%d", c.Writer.Status())
		var err error
		if len(c.Errors) > 0 {
			err = fmt.Errorf("request errors: %v", c.Errors.Errors())
		}
		tracer.EndSpan(span, err)
	}
}
