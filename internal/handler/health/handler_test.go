package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h *Handler, path string) (int, map[string]interface{}) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	h.RegisterRoutes(engine.Group(""))

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestLiveness(t *testing.T) {
	code, body := get(t, NewHandler(nil), "/health/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "UP", body["status"])
}

func TestReadiness(t *testing.T) {
	up := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	code, body := get(t, NewHandler(map[string]Check{"database": up, "redis": up}), "/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "UP", body["status"])

	code, body = get(t, NewHandler(map[string]Check{"database": up, "redis": down}), "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "DOWN", body["status"])
	assert.Equal(t, map[string]interface{}{"database": "UP", "redis": "DOWN"}, body["checks"])
}

func TestReadiness_ChecksSeeDeadline(t *testing.T) {
	var sawDeadline bool
	h := NewHandler(map[string]Check{"database": func(ctx context.Context) error {
		_, sawDeadline = ctx.Deadline()
		return nil
	}})

	code, _ := get(t, h, "/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, sawDeadline)
}
