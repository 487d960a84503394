package http

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

// Check comprueba una dependencia (ping a la base, al broker...).
type Check func(ctx context.Context) error

// HealthHandler expone el estado del proceso dispatcher.
type HealthHandler struct {
	checks  map[string]Check
	timeout time.Duration
}

func NewHealthHandler(timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthHandler{checks: make(map[string]Check), timeout: timeout}
}

// Register añade una comprobación con nombre. No es seguro llamarlo con el servidor arrancado.
func (h *HealthHandler) Register(name string, check Check) {
	h.checks[name] = check
}

// Health endpoint GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(gin.H, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	c.JSON(status, gin.H{"status": overall, "checks": results})
}

func RegisterHealthRoutes(r *gin.Engine, handler *HealthHandler) {
	r.GET("/health", handler.Health)
}
