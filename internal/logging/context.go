package logging

import (
	"context"
	"regexp"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type requestCtxKey struct{}
type collectionCtxKey struct{}
type loggerCtxKey struct{}

var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ContextFields extracts correlation fields from ctx: OTel trace and span
// ids, the request id and the collection being operated on.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 4)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	if col := CollectionFromContext(ctx); col != "" {
		fields = append(fields, zap.String("collection", col))
	}
	return fields
}

// WithRequestID stores a request id. Ids that are empty, longer than 128
// bytes, or contain characters outside [A-Za-z0-9_-] are dropped so
// client-supplied headers cannot inject arbitrary log content.
func WithRequestID(ctx context.Context, id string) context.Context {
	if !requestIDPattern.MatchString(id) {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext returns the request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestCtxKey{}).(string)
	return id
}

// WithCollection stores the collection name being operated on.
func WithCollection(ctx context.Context, collection string) context.Context {
	return context.WithValue(ctx, collectionCtxKey{}, collection)
}

// CollectionFromContext returns the collection name, or "".
func CollectionFromContext(ctx context.Context) string {
	c, _ := ctx.Value(collectionCtxKey{}).(string)
	return c
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}
