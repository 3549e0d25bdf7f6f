package middleware

import (
	"net/http"

	"github.com/forbearing/wasmrt/response"
	"github.com/gin-gonic/gin"
)

// RequestSizeLimit returns a middleware that limits the size of incoming
// request bodies so one guest request cannot exhaust host memory before
// the body even reaches the HTTP bridge.
func RequestSizeLimit(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > 0 && c.Request.ContentLength > maxSize {
			response.ResponseJSON(c, response.CodeBadRequest.WithMsg("request body too large"))
			c.Abort()
			return
		}

		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		}
		c.Next()
	}
}
