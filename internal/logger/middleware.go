package logger

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-Id"

// RequestLoggingMiddleware tags every request with an id and logs its start and completion.
func RequestLoggingMiddleware(logger *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = GenerateRequestID()
		}
		ctx := WithRequestID(c.Request.Context(), requestID)
		ctx = WithOperation(ctx, "http_request")
		c.Request = c.Request.WithContext(ctx)
		c.Header(RequestIDHeader, requestID)

		log := logger.WithContext(ctx).WithComponent("http")

		log.Debug("request started",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.String("remote_addr", c.ClientIP()),
			slog.String("user_agent", c.Request.UserAgent()),
		)

		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= 500 {
			level = slog.LevelError
		}
		log.Log(c.Request.Context(), level, "request completed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.Int("response_size", c.Writer.Size()),
		)
	}
}
