package middleware

import (
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Logger returns a middleware that logs HTTP requests
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		// Process request
		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		if raw != "" {
			path = path + "?" + redactQuery(c.Request.URL.Query(), raw)
		}

		logger := log.With().
			Str("request_id", c.GetString(ContextRequestID)).
			Str("client_ip", c.ClientIP()).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", statusCode).
			Dur("latency", latency).
			Str("user_agent", c.Request.UserAgent())

		if caller, ok := CallerFrom(c); ok {
			logger = logger.Str("caller_id", caller.ID.String()).Str("role", string(caller.Role))
		}

		// Log based on status code
		logEvent := logger.Logger()
		switch {
		case statusCode >= 500:
			logEvent.Error().Msg("Server error")
		case statusCode >= 400:
			logEvent.Warn().Msg("Client error")
		default:
			logEvent.Info().Msg("Request processed")
		}
	}
}

// redactQuery hides the websocket access token.
func redactQuery(q url.Values, raw string) string {
	if !q.Has("token") {
		return raw
	}
	q.Set("token", "REDACTED")
	return q.Encode()
}
