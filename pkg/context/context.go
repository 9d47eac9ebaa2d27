// Package context carries request-scoped identifiers through context.Context
package context

import "context"

type ContextKey string

var (
	RequestIDKey = ContextKey("X-Request-Id")
	TenantIDKey  = ContextKey("X-Tenant-Id")
	UserIDKey    = ContextKey("X-User-Id")
	ActorTypeKey = ContextKey("X-Actor-Type")
)

func stringValue(ctx context.Context, key ContextKey) string {
	value, ok := ctx.Value(key).(string)
	if !ok {
		return ""
	}
	return value
}

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

// SetTenantID stores the organization the request operates on
func SetTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// GetTenantID returns the organization id, or "" when none was supplied
func GetTenantID(ctx context.Context) string {
	return stringValue(ctx, TenantIDKey)
}

func SetUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func GetUserID(ctx context.Context) string {
	return stringValue(ctx, UserIDKey)
}

// SetActorType stores who is acting (user, system, ai)
func SetActorType(ctx context.Context, actorType string) context.Context {
	return context.WithValue(ctx, ActorTypeKey, actorType)
}

func GetActorType(ctx context.Context) string {
	return stringValue(ctx, ActorTypeKey)
}
