package middlewares

import (
	"errors"
	"net/http"

	domainErrors "go-line-scheduler/src/domain/errors"
	logger "go-line-scheduler/src/infrastructure/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandler renders the last error attached with ctx.Error once the handler chain returns.
func ErrorHandler(loggerInstance *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		var appErr *domainErrors.AppError
		if errors.As(err, &appErr) {
			status, message := domainErrors.AppErrorToHTTP(appErr)
			if status >= http.StatusInternalServerError {
				loggerInstance.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
			}
			c.JSON(status, gin.H{"error": message})
			return
		}

		loggerInstance.Error("Unhandled request error", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong"})
	}
}
