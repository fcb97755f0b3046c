package auth

import (
	"context"
)

type contextKey string

// Context keys
const (
	identityKey contextKey = "identity"
)

// WithIdentity adds the caller identity to the context
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity gets the caller identity from the context
func GetIdentity(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(identityKey).(Identity)
	return v, ok
}

// GetUserID gets the caller's user id from the context, empty if unset
func GetUserID(ctx context.Context) string {
	if id, ok := GetIdentity(ctx); ok {
		return id.UserID
	}
	return ""
}

// GetRole gets the caller's role from the context, empty if unset
func GetRole(ctx context.Context) Role {
	if id, ok := GetIdentity(ctx); ok {
		return id.Role
	}
	return ""
}
