package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yourusername/scrape-forge/internal/logger"
)

// RequestIDHeader はリクエストIDを受け渡すヘッダーです。
const RequestIDHeader = "X-Request-Id"

// RequestID はリクエストごとに ID を払い出し、レスポンスヘッダーとログの属性に載せます。
// クライアントが送ってきた ID があればそれを使います。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		ctx := logger.WithContext(c.Request.Context(), slog.String("request_id", id))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
