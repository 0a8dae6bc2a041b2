package shared

import (
	"context"

	"github.com/google/uuid"
)

type correlationKey struct{}
type taskIDKey struct{}
type sourceKey struct{}

// WithCorrelationID attaches a correlation id to the context. All operation
// events written while handling one logical request share this id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID extracts the correlation id from ctx. Returns "-" if absent.
func CorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewCorrelationID generates a fresh correlation id.
func NewCorrelationID() string {
	return uuid.NewString()
}

// WithTaskID attaches an agent task id to the context.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDKey{}, taskID)
}

// TaskID extracts the agent task id from ctx. Returns "" if absent.
func TaskID(ctx context.Context) string {
	if v, ok := ctx.Value(taskIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithSource attaches the originating caller (tool name, "scheduler",
// "checkin", "chat") to the context for operation-event attribution.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

// Source extracts the caller attribution from ctx. Returns "" if absent.
func Source(ctx context.Context) string {
	if v, ok := ctx.Value(sourceKey{}).(string); ok {
		return v
	}
	return ""
}
