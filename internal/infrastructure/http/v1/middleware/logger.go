package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tenantdb/internal/core/datafilter"
	"tenantdb/pkg/logger"
)

// Logger puts log into the request context and writes one line per
// request. Requests that ran inside a unit of work also log the session
// tenant and the filter state signature.
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Request = c.Request.WithContext(logger.WithLogger(c.Request.Context(), log))

		c.Next()

		fields := []any{
			"method", c.Request.Method,
			"path", path,
			"query", query,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if v, ok := c.Get(sessionStateKey); ok {
			state := v.(datafilter.State)
			fields = append(fields, "session_tenant", sessionTenant(state), "filter_state", state.Signature())
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			fields = append(fields, "error", errs.String())
		}

		log.WithContext(c.Request.Context()).Infow("http request", fields...)
	}
}

func sessionTenant(s datafilter.State) string {
	if s.TenantID == nil {
		return "host"
	}
	return strconv.FormatInt(*s.TenantID, 10)
}
