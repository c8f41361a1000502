package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"telecare-backend/pkg/logger"
)

// Timeout bounds each request's context. Handlers that honor the context
// abort on their own; the middleware logs the deadline hit either way.
func Timeout(d time.Duration) gin.HandlerFunc {
	if d <= 0 {
		d = 30 * time.Second
	}
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		if ctx.Err() == context.DeadlineExceeded {
			logger.Warn("request deadline exceeded",
				zap.String("path", c.Request.URL.Path),
				zap.Duration("timeout", d),
			)
			if !c.Writer.Written() {
				c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Request timeout"})
			}
			c.Abort()
		}
	}
}
