package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/molehq/molesearch-backend/internal/tasks"
)

type HealthHandler struct {
	store tasks.Store
}

func NewHealthHandler(store tasks.Store) *HealthHandler {
	return &HealthHandler{store: store}
}

// HealthCheck is the liveness probe: the process is up, plus a ping
// summary of the task store. A degraded store does not fail the probe.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	components := gin.H{}
	if h.store != nil {
		if err := h.store.Ping(c.Request.Context()); err != nil {
			components["task_store"] = "down"
		} else {
			components["task_store"] = "up"
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"components": components,
	})
}
