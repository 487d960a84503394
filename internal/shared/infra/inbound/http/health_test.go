package http

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

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func serveHealth(t *testing.T, h *HealthHandler) (int, healthResponse) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterHealthRoutes(router, h)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(rec, req)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealth_AllChecksPass(t *testing.T) {
	h := NewHealthHandler(0)
	h.Register("store", func(ctx context.Context) error { return nil })
	h.Register("outbox", func(ctx context.Context) error { return nil })

	code, body := serveHealth(t, h)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, map[string]string{"store": "ok", "outbox": "ok"}, body.Checks)
}

func TestHealth_FailingCheckDegrades(t *testing.T) {
	h := NewHealthHandler(0)
	h.Register("store", func(ctx context.Context) error { return nil })
	h.Register("lock", func(ctx context.Context) error { return errors.New("redis down") })

	code, body := serveHealth(t, h)

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "redis down", body.Checks["lock"])
	assert.Equal(t, "ok", body.Checks["store"])
}

func TestHealth_NoChecks(t *testing.T) {
	code, body := serveHealth(t, NewHealthHandler(0))

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)
	assert.Empty(t, body.Checks)
}
