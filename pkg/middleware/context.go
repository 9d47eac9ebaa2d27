package middleware

import (
	"github.com/Ramsey-B/clover/pkg/context"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	// HeaderTenantID carries the organization the request operates on
	HeaderTenantID = "X-Tenant-ID"
	// HeaderUserID carries the acting user
	HeaderUserID = "X-User-ID"
	// HeaderActorType carries the actor type (user, system, ai)
	HeaderActorType = "X-Actor-Type"
)

// Context copies request identifiers from headers onto the request context
func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			ctx := req.Context()
			ctx = context.SetRequestID(ctx, requestID)
			ctx = context.SetTenantID(ctx, req.Header.Get(HeaderTenantID))
			ctx = context.SetUserID(ctx, req.Header.Get(HeaderUserID))
			ctx = context.SetActorType(ctx, req.Header.Get(HeaderActorType))

			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}
