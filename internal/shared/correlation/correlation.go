// Package correlation threads the per-request correlation ID through
// context so logs and error responses from any layer can carry it.
package correlation

import "context"

type idKey struct{}

// WithID attaches a correlation ID to the context. The ID is generated
// at the request boundary and is opaque here; it only rides along for
// logging and error responses.
func WithID(ctx context.Context, id string) context.Context {
	if ctx == nil || id == "" {
		return ctx
	}
	return context.WithValue(ctx, idKey{}, id)
}

// FromContext returns the attached correlation ID, if any.
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(idKey{}).(string); ok {
		return id
	}
	return ""
}

// Background detaches from the request context while keeping the
// correlation ID for background work.
func Background(ctx context.Context) context.Context {
	id := FromContext(ctx)
	if id == "" {
		return context.Background()
	}
	return WithID(context.Background(), id)
}
