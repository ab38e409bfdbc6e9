package services

import "context"

type contextKey int

const (
	jobIDKey contextKey = iota
	bookKey
)

func withValue(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func value(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok && v != ""
}

// WithJobID annotates ctx with the job identifier. Empty ids are ignored.
func WithJobID(ctx context.Context, id string) context.Context {
	return withValue(ctx, jobIDKey, id)
}

// JobIDFromContext returns the job identifier, if any.
func JobIDFromContext(ctx context.Context) (string, bool) {
	return value(ctx, jobIDKey)
}

// WithBook annotates ctx with the book folder being processed.
func WithBook(ctx context.Context, path string) context.Context {
	return withValue(ctx, bookKey, path)
}

// BookFromContext returns the book folder, if any.
func BookFromContext(ctx context.Context) (string, bool) {
	return value(ctx, bookKey)
}
