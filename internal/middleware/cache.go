package middleware

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// CacheConfig represents cache control configuration
type CacheConfig struct {
	MaxAge  int
	Private bool
	NoStore bool
	Vary    []string
}

// DefaultCacheConfig keeps appointment and chat data out of shared caches.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Private: true,
		NoStore: true,
		Vary:    []string{"Authorization"},
	}
}

// Cache adds cache control headers to responses. Non-GET requests are never cached.
func Cache(config CacheConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != "GET" {
			c.Header("Cache-Control", "no-store")
			c.Next()
			return
		}

		directives := make([]string, 0, 3)
		if config.Private {
			directives = append(directives, "private")
		} else {
			directives = append(directives, "public")
		}
		if config.NoStore {
			directives = append(directives, "no-store")
		} else if config.MaxAge > 0 {
			directives = append(directives, "max-age="+strconv.Itoa(config.MaxAge))
		}
		c.Header("Cache-Control", strings.Join(directives, ", "))

		if len(config.Vary) > 0 {
			c.Header("Vary", strings.Join(config.Vary, ", "))
		}

		c.Next()
	}
}
