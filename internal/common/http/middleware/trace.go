package middleware

import (
	"context"
	"strings"

	"botarena/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	traceIDHeader   = "X-Trace-Id"
	requestIDHeader = "X-Request-Id"
	userIDHeader    = "X-User-Id"

	traceIDContextKey   = "trace_id"
	requestIDContextKey = "request_id"
	userIDContextKey    = "user_id"
)

// TraceContextConfig controls whether the caller-supplied user id header is
// trusted and echoed back.
type TraceContextConfig struct {
	AllowUserIDHeader bool
	WriteUserIDHeader bool
}

// TraceContextMiddleware stamps every request with trace and request ids,
// generating them when the caller did not send any.
func TraceContextMiddleware() gin.HandlerFunc {
	return TraceContextMiddlewareWithConfig(TraceContextConfig{
		AllowUserIDHeader: true,
		WriteUserIDHeader: true,
	})
}

// TraceContextMiddlewareWithConfig is the configurable form of
// TraceContextMiddleware.
func TraceContextMiddlewareWithConfig(cfg TraceContextConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		stampID(c, traceIDContextKey, contextkey.TraceID, traceIDHeader, headerOrNew(c, traceIDHeader))
		stampID(c, requestIDContextKey, contextkey.RequestID, requestIDHeader, headerOrNew(c, requestIDHeader))

		if cfg.AllowUserIDHeader {
			if userID := strings.TrimSpace(c.GetHeader(userIDHeader)); userID != "" {
				c.Set(userIDContextKey, userID)
				ctx := context.WithValue(c.Request.Context(), contextkey.UserID, userID)
				c.Request = c.Request.WithContext(ctx)
				if cfg.WriteUserIDHeader {
					c.Writer.Header().Set(userIDHeader, userID)
				}
			}
		}

		c.Next()
	}
}

func headerOrNew(c *gin.Context, header string) string {
	if id := strings.TrimSpace(c.GetHeader(header)); id != "" {
		return id
	}
	return uuid.NewString()
}

// stampID records the id in the gin keys, the request context, and the
// response headers so downstream handlers and the logger all see it.
func stampID(c *gin.Context, ginKey string, ctxKey interface{}, header, id string) {
	c.Set(ginKey, id)
	ctx := context.WithValue(c.Request.Context(), ctxKey, id)
	c.Request = c.Request.WithContext(ctx)
	c.Writer.Header().Set(header, id)
}
