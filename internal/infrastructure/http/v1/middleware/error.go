package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tenantdb/internal/core/apperror"
	appctx "tenantdb/internal/core/context"
	"tenantdb/pkg/logger"
)

// ErrorHandler middleware transforms errors into consistent JSON responses.
// Hides internal errors from clients while logging full details.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		if appErr, ok := apperror.AsAppError(err); ok {
			if appErr.Err != nil {
				logger.Error(c.Request.Context(), "request error",
					"code", appErr.Code,
					"cause", appErr.Err,
				)
			}
			writeError(c, appErr)
			return
		}

		logger.Error(c.Request.Context(), "unhandled error", "error", err)
		writeError(c, apperror.NewInternal(err).WithDetail("request_id", appctx.GetRequestID(c.Request.Context())))
	}
}

func writeError(c *gin.Context, appErr *apperror.AppError) {
	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{
		"code":    appErr.Code,
		"message": appErr.Message,
		"details": appErr.Details,
	})
}
