package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"voxrelay/pkg/logger"
	"voxrelay/pkg/utils"
)

// RequestLogMiddleware assigns each request an id and writes one access log
// line when it completes. The id is echoed in X-Request-ID so callers can
// quote it when reporting a problem.
func RequestLogMiddleware(log *zap.Logger) gin.HandlerFunc {
	ctxLogger := logger.NewContextLogger(log)

	return func(c *gin.Context) {
		if _, skip := probePaths[c.Request.URL.Path]; skip {
			c.Next()
			return
		}

		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = utils.GenerateRequestID()
		}
		ctx := context.WithValue(c.Request.Context(), logger.ContextKeyRequestID, requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set("X-Request-ID", requestID)

		start := time.Now()
		c.Next()

		// The auth middleware runs later in the chain, so the client id is
		// only known once the request has completed.
		ctx = c.Request.Context()
		if clientID, ok := c.Get(ContextKeyClientID); ok {
			if id, ok := clientID.(string); ok && id != "" {
				ctx = context.WithValue(ctx, logger.ContextKeyClientID, id)
			}
		}
		ctxLogger.LogRequest(ctx, c.Request.Method, c.Request.URL.Path,
			c.Writer.Status(), time.Since(start).Milliseconds())
	}
}
