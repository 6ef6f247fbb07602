package auth

import (
	"context"

	"github.com/stebofarm/gateway/internal/model"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const callerContextKey contextKey = "caller"

// ContextWithCaller adds the verified caller to the context.
func ContextWithCaller(ctx context.Context, caller *model.Caller) context.Context {
	return context.WithValue(ctx, callerContextKey, caller)
}

// CallerFromContext retrieves the verified caller.
// Returns nil if the request did not pass signature verification.
func CallerFromContext(ctx context.Context) *model.Caller {
	caller, ok := ctx.Value(callerContextKey).(*model.Caller)
	if !ok {
		return nil
	}
	return caller
}

// FrontendIDFromContext returns the verified frontend ID, or "".
func FrontendIDFromContext(ctx context.Context) string {
	if c := CallerFromContext(ctx); c != nil {
		return c.FrontendID
	}
	return ""
}
