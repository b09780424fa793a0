package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
)

type requestIDKey struct{}

const HeaderRequestID = "X-Request-Id"

func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(HeaderRequestID)
		if reqID == "" {
			reqID = ulid.Make().String()
		}
		c.Writer.Header().Set(HeaderRequestID, reqID)
		ctx := context.WithValue(c.Request.Context(), requestIDKey{}, reqID)
		c.Request = c.Request.WithContext(ctx)
		c.Set("request_id", reqID)
		c.Next()
	}
}

func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}
