package handlers

import (
	"context"
	"net/http"
	"time"

	"devdocs-chat/store"

	"github.com/gin-gonic/gin"
)

// HealthHandler serves liveness, readiness and the service banner
type HealthHandler struct {
	name     string
	version  string
	provider string
	deps     map[string]store.Pinger
}

func NewHealthHandler(name, version, provider string, deps map[string]store.Pinger) *HealthHandler {
	return &HealthHandler{name: name, version: version, provider: provider, deps: deps}
}

func (h *HealthHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"name": h.name, "version": h.version, "status": "running"})
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "provider": h.provider})
}

// Ready pings every external dependency
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	status := http.StatusOK
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "unavailable"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}
