// Package handlertest builds authenticated gin engines for handler tests.
package handlertest

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/internal/middleware"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/pkg/auth"
)

const (
	secret = "handler-test-secret"
	issuer = "handler-test"
)

// RouteRegistrar is implemented by every handler.
type RouteRegistrar interface {
	RegisterRoutes(*gin.RouterGroup)
}

// Server is a gin engine whose /api/v1 group requires a bearer token.
type Server struct {
	Engine *gin.Engine
	tokens *auth.JWTService
}

func NewServer(t *testing.T, handlers ...RouteRegistrar) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, middleware.RegisterValidators())

	tokens := auth.NewJWTService(secret, issuer)
	engine := gin.New()
	engine.Use(middleware.RequestID(), middleware.Recovery())

	api := engine.Group("/api/v1")
	api.Use(middleware.NewAuthMiddleware(tokens).Authenticate())
	for _, h := range handlers {
		h.RegisterRoutes(api)
	}

	return &Server{Engine: engine, tokens: tokens}
}

// Token mints a valid access token for caller.
func (s *Server) Token(t *testing.T, caller model.Caller) string {
	t.Helper()
	token, err := s.tokens.Issue(caller, time.Hour)
	require.NoError(t, err)
	return token
}

// NewCaller returns a caller with a fresh id.
func NewCaller(role model.Role) model.Caller {
	return model.Caller{ID: uuid.New(), Role: role}
}

// Response mirrors httputil.Response with the payload left raw.
type Response struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string                 `json:"code"`
		Details map[string]interface{} `json:"details"`
	} `json:"error"`
}

// Code returns the error code, or "" for success responses.
func (r Response) Code() string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Code
}

// Decode unmarshals Data into v.
func (r Response) Decode(t *testing.T, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Data, v), "data: %s", string(r.Data))
}

// Do sends a JSON request as caller and decodes the envelope.
func (s *Server) Do(t *testing.T, caller model.Caller, method, path string, body interface{}) (int, Response) {
	t.Helper()
	return s.DoRaw(t, s.Token(t, caller), method, path, body)
}

// DoRaw sends a request with an explicit token. An empty token sends none.
func (s *Server) DoRaw(t *testing.T, token, method, path string, body interface{}) (int, Response) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.Engine.ServeHTTP(w, req)

	var resp Response
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "body: %s", w.Body.String())
	}
	return w.Code, resp
}

// StatusOf is a shorthand when only the status code matters.
func (s *Server) StatusOf(t *testing.T, caller model.Caller, method, path string, body interface{}) int {
	t.Helper()
	code, _ := s.Do(t, caller, method, path, body)
	return code
}
