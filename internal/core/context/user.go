// Package context provides request-scoped values extraction.
package context

import (
	"context"
)

// UserContext contains authenticated user information.
type UserContext struct {
	// UserID is nil for anonymous/system calls.
	UserID *int64
	// TenantID is nil for host users.
	TenantID *int64
	Email    string
	Roles    []string
	IsAdmin  bool
}

type userContextKey struct{}

// WithUser adds UserContext to context.
func WithUser(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// GetUser returns UserContext from context.
func GetUser(ctx context.Context) *UserContext {
	if v, ok := ctx.Value(userContextKey{}).(*UserContext); ok {
		return v
	}
	return nil
}

// GetUserID returns user ID from context or nil.
func GetUserID(ctx context.Context) *int64 {
	if u := GetUser(ctx); u != nil {
		return u.UserID
	}
	return nil
}

// GetTenantID returns tenant ID from context or nil (host).
func GetTenantID(ctx context.Context) *int64 {
	if u := GetUser(ctx); u != nil {
		return u.TenantID
	}
	return nil
}

// HasRole checks if user has specific role.
func HasRole(ctx context.Context, role string) bool {
	u := GetUser(ctx)
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// UserActor answers "who is acting and for which tenant" from the
// UserContext placed into the request context by the auth middleware.
type UserActor struct{}

// CurrentActorID returns the authenticated user id, nil when anonymous.
func (UserActor) CurrentActorID(ctx context.Context) *int64 {
	return GetUserID(ctx)
}

// CurrentTenantID returns the tenant of the authenticated user, nil for host.
func (UserActor) CurrentTenantID(ctx context.Context) *int64 {
	return GetTenantID(ctx)
}
