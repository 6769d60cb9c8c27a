package middlewares

import (
	"context"

	"bitbucket.org/mmdatafocus/operations_backend/appctx"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ContextMiddleware copies the tenant and correlation headers into the request
// context so models never touch gin directly. A request without a correlation
// id gets one assigned here, so every log line and outbox row can be tied back
// to the originating call.
func ContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if businessId := c.Request.Header.Get("X-Business-Id"); businessId != "" {
			ctx = context.WithValue(ctx, appctx.ContextKeyBusinessId, businessId)
		}

		correlationId := c.Request.Header.Get("X-Correlation-Id")
		if correlationId == "" {
			correlationId = uuid.NewString()
		}
		ctx = context.WithValue(ctx, appctx.ContextKeyCorrelationId, correlationId)
		c.Header("X-Correlation-Id", correlationId)

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
