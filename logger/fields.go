package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across rankpulse.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity
	FieldRunID        = "run_id"
	FieldDefinitionID = "definition_id"
	FieldTenantID     = "tenant_id"
	FieldJobType      = "job_type"
	FieldTrigger      = "trigger"
	FieldRequestID    = "request_id"

	// Components
	FieldComponent = "component"

	// Operations
	FieldOperation = "operation"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStage     = "stage"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldTimezone   = "timezone"
	FieldInterval   = "interval"

	// Errors
	FieldError      = "error"
	FieldErrorCount = "error_count"

	// Counts
	FieldCount     = "count"
	FieldProcessed = "processed"
	FieldTotal     = "total"

	// Status
	FieldStatus = "status"

	// Network
	FieldAddress = "address"
	FieldPort    = "port"
	FieldURL     = "url"

	FieldSymbol = "symbol" // segment glyph (꩜, ✿, ❀, ...)
)

type contextKey string

const (
	runIDKey     contextKey = "logger_run_id"
	requestIDKey contextKey = "logger_request_id"
)

// WithRunID adds a run ID to the context for logging
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FieldsFromContext extracts logging fields from context.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if runID, ok := ctx.Value(runIDKey).(string); ok && runID != "" {
		fields = append(fields, FieldRunID, runID)
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, FieldRequestID, requestID)
	}

	return fields
}

// FromContext returns l with fields extracted from ctx.
func FromContext(ctx context.Context, l *zap.SugaredLogger) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	func NewTicker(...) *Ticker {
//	    return &Ticker{
//	        logger: logger.ComponentLogger("pulse.ticker"),
//	    }
//	}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
