package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-api/internal/model"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/httputil"
)

const ContextCaller = "caller"

// TokenValidator turns a bearer token into a caller identity.
type TokenValidator interface {
	Validate(token string) (*model.Caller, error)
}

type AuthMiddleware struct {
	tokens TokenValidator
}

func NewAuthMiddleware(tokens TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Authenticate verifies the bearer token and stores the caller in the context.
// Browsers cannot set headers on a websocket upgrade, so ?token= is accepted too.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				httputil.RespondWithError(c, apperrors.Unauthorized(nil))
				return
			}
			token = parts[1]
		} else {
			token = c.Query("token")
		}

		if token == "" {
			httputil.RespondWithError(c, apperrors.Unauthorized(nil))
			return
		}

		caller, err := m.tokens.Validate(token)
		if err != nil {
			httputil.RespondWithError(c, apperrors.Unauthorized(err))
			return
		}

		c.Set(ContextCaller, *caller)
		c.Next()
	}
}

// RequireRole rejects callers whose role is not listed.
func RequireRole(roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := CallerFrom(c)
		if !ok {
			httputil.RespondWithError(c, apperrors.Unauthorized(nil))
			return
		}
		for _, r := range roles {
			if caller.Role == r {
				c.Next()
				return
			}
		}
		httputil.RespondWithError(c, apperrors.Forbidden("role not permitted"))
	}
}

// CallerFrom returns the authenticated caller, if any.
func CallerFrom(c *gin.Context) (model.Caller, bool) {
	v, ok := c.Get(ContextCaller)
	if !ok {
		return model.Caller{}, false
	}
	caller, ok := v.(model.Caller)
	return caller, ok
}
