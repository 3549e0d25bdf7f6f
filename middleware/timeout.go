package middleware

import (
	"context"
	"time"

	"github.com/forbearing/wasmrt/response"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Timeout returns a middleware that adds a timeout to the request context.
// If the request takes longer than the specified duration, it will be
// canceled and the guest call's context.Context is canceled so a blocked
// bridge call can unwind.
func Timeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)

		done := make(chan struct{})
		panicChan := make(chan any, 1)

		go func() {
			defer func() {
				if r := recover(); r != nil {
					panicChan <- r
				}
			}()
			c.Next()
			close(done)
		}()

		select {
		case <-done:
		case p := <-panicChan:
			panic(p)
		case <-ctx.Done():
			if !c.Writer.Written() {
				zap.S().Warnw("request timeout",
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
					"timeout", timeout,
				)
				response.ResponseJSON(c, response.CodeContextTimeout)
				c.Abort()
			}
			cancel()
		}
	}
}
