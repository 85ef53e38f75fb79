package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"secureconnect-sync/pkg/logger"
	"secureconnect-sync/pkg/response"
)

// Recovery recovers from panics and returns 500 error
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("Panic recovered",
					zap.Any("panic", err),
					zap.String("path", c.Request.URL.Path),
					zap.ByteString("stack", debug.Stack()))

				response.InternalError(c, "Internal server error")
				c.Abort()
			}
		}()
		c.Next()
	}
}

// HealthCheck reports liveness. The relay keeps serving while Redis is
// degraded, so degraded still answers 200.
func HealthCheck(serviceName string, degraded func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "healthy"
		if degraded != nil && degraded() {
			status = "degraded"
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  status,
			"service": serviceName,
			"time":    time.Now().UTC(),
		})
	}
}
