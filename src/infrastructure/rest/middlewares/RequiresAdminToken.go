package middlewares

import (
	"crypto/subtle"
	"net/http"
	"strings"

	logger "go-line-scheduler/src/infrastructure/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequiresAdminTokenMiddleware guards the admin API with a static bearer token. An empty token
// disables the check.
func RequiresAdminTokenMiddleware(adminToken string, loggerInstance *logger.Logger) gin.HandlerFunc {
	if adminToken == "" {
		loggerInstance.Warn("ADMIN_API_TOKEN not set; admin API is unauthenticated")
		return func(c *gin.Context) { c.Next() }
	}
	expected := []byte(adminToken)
	return func(c *gin.Context) {
		tokenString := c.GetHeader("Authorization")
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Token not provided"})
			c.Abort()
			return
		}

		tokenString = strings.TrimPrefix(tokenString, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(tokenString), expected) != 1 {
			loggerInstance.Warn("Rejected admin request with invalid token",
				zap.String("path", c.FullPath()), zap.String("ip", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}
		c.Next()
	}
}
