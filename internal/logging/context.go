package logging

import (
	"context"
	"log/slog"
	"strings"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldRequestID correlates log lines with one gateway request.
	FieldRequestID = "request_id"
	// FieldBatchID identifies a transfer batch.
	FieldBatchID = "batch_id"
	// FieldItemIndex is the 0-based position of an item inside its batch.
	FieldItemIndex = "item_index"
	// FieldVolumeID identifies a removable volume.
	FieldVolumeID = "volume_id"
	// FieldEventType classifies a log line for filtering ("volume_attached", "copy_failed", ...).
	FieldEventType = "event_type"
	// FieldErrorCode carries the wire code of a classified error.
	FieldErrorCode = "error_code"
	// FieldErrorHint suggests a next step to the operator.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	batchIDKey
	volumeIDKey
)

// WithRequestID tags ctx with a gateway request identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestIDKey, id)
}

// WithBatchID tags ctx with a transfer batch identifier.
func WithBatchID(ctx context.Context, id string) context.Context {
	return withString(ctx, batchIDKey, id)
}

// WithVolumeID tags ctx with a volume identifier.
func WithVolumeID(ctx context.Context, id string) context.Context {
	return withString(ctx, volumeIDKey, id)
}

// RequestIDFromContext returns the request id attached to ctx.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, requestIDKey)
}

// BatchIDFromContext returns the batch id attached to ctx.
func BatchIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, batchIDKey)
}

func withString(ctx context.Context, key contextKey, value string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, ok := ctx.Value(key).(string)
	return value, ok && value != ""
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := stringFrom(ctx, requestIDKey); ok {
		fields = append(fields, slog.String(FieldRequestID, id))
	}
	if id, ok := stringFrom(ctx, batchIDKey); ok {
		fields = append(fields, slog.String(FieldBatchID, id))
	}
	if id, ok := stringFrom(ctx, volumeIDKey); ok {
		fields = append(fields, slog.String(FieldVolumeID, id))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
