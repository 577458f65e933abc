package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

const HeaderAcceptVersion = "Accept-Version"

// Version stamps responses with the served API version and refuses requests
// that ask for a different one.
func Version(current string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-API-Version", current)

		if requested := c.GetHeader(HeaderAcceptVersion); requested != "" && requested != current {
			c.AbortWithStatusJSON(http.StatusNotAcceptable, ErrorResponse{
				Status:  "error",
				Message: fmt.Sprintf("API version %s not supported", requested),
				TraceID: c.GetString(ContextRequestID),
			})
			return
		}

		c.Next()
	}
}
