package auth

import (
	"context"

	"github.com/noncegate/noncegate/internal/model"
)

type contextKey string

const (
	principalContextKey contextKey = "principal"
	sessionContextKey   contextKey = "session"
)

// ContextWithPrincipal stores the API key principal resolved for a request.
func ContextWithPrincipal(ctx context.Context, p *model.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext returns the principal, or nil.
func PrincipalFromContext(ctx context.Context) *model.Principal {
	p, _ := ctx.Value(principalContextKey).(*model.Principal)
	return p
}

// KeyIDFromContext returns the authorized key ID, or "".
func KeyIDFromContext(ctx context.Context) string {
	if p := PrincipalFromContext(ctx); p != nil {
		return p.KeyID
	}
	return ""
}

// ContextWithSession stores verified session claims.
func ContextWithSession(ctx context.Context, claims *SessionClaims) context.Context {
	return context.WithValue(ctx, sessionContextKey, claims)
}

// SessionFromContext returns the session claims, or nil.
func SessionFromContext(ctx context.Context) *SessionClaims {
	c, _ := ctx.Value(sessionContextKey).(*SessionClaims)
	return c
}

// MustSessionFromContext panics when the session middleware did not run.
func MustSessionFromContext(ctx context.Context) *SessionClaims {
	c := SessionFromContext(ctx)
	if c == nil {
		panic("session not found - ensure session middleware is applied")
	}
	return c
}
