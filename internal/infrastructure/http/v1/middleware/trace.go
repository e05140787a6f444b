package middleware

import (
	"github.com/gin-gonic/gin"

	appctx "tenantdb/internal/core/context"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderTraceID   = "X-Trace-ID"
)

// Trace puts a TraceContext on the request context. A caller-supplied
// X-Trace-ID wins over the active span; both ids are echoed back.
func Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		trace := appctx.NewTraceContext(ctx, c.GetHeader(HeaderRequestID))
		if traceID := c.GetHeader(HeaderTraceID); traceID != "" {
			trace.TraceID = traceID
		}
		c.Request = c.Request.WithContext(appctx.WithTrace(ctx, trace))

		c.Header(HeaderRequestID, trace.RequestID)
		c.Header(HeaderTraceID, trace.TraceID)

		c.Next()
	}
}
