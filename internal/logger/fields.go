package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across
// buntime. Use these constants instead of raw strings.
const (
	FieldRequestID = "request_id"
	FieldWorkerID  = "worker_id"
	FieldTraceID   = "trace_id"

	FieldComponent = "component"
	FieldPlugin    = "plugin"
	FieldApp       = "app"
	FieldLane      = "lane"

	FieldOperation = "operation"
	FieldMethod    = "method"
	FieldPath      = "path"

	FieldDurationMS = "duration_ms"
	FieldStartTime  = "start_time"
	FieldEndTime    = "end_time"

	FieldError     = "error"
	FieldErrorCode = "error_code"
	FieldErrorKind = "error_kind"

	FieldCount      = "count"
	FieldPoolSize   = "pool_size"
	FieldWaiters    = "waiters"
	FieldTotalCount = "total_count"

	FieldStatus  = "status"
	FieldHealthy = "healthy"
	FieldState   = "state"

	FieldFile = "file"
	FieldPID  = "pid"

	FieldAddress = "address"
	FieldPort    = "port"
	FieldHost    = "host"
)

type contextKey string

const (
	requestIDKey contextKey = "logger_request_id"
	traceIDKey   contextKey = "logger_trace_id"
	componentKey contextKey = "logger_component"
)

// WithRequestID adds a request ID to the context for logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithTraceID adds a trace ID to the context for logging.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithComponent adds a component name to the context for logging.
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context, suitable for
// use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, FieldRequestID, requestID)
	}
	if traceID, ok := ctx.Value(traceIDKey).(string); ok && traceID != "" {
		fields = append(fields, FieldTraceID, traceID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// LoggerFromContext returns a logger with fields extracted from context.
func LoggerFromContext(ctx context.Context) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return Logger
	}
	return Logger.With(fields...)
}

// ComponentLogger returns a named logger for a specific component (the
// worker pool, dispatcher, registry, and plugin host each get their own).
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// ChildLogger creates a child logger with additional context fields.
func ChildLogger(parent *zap.SugaredLogger, keysAndValues ...interface{}) *zap.SugaredLogger {
	return parent.With(keysAndValues...)
}
