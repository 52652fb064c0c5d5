package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dashsync/internal/db"
)

type HealthHandler struct {
	DB *db.DB
	// DryRun reports ready without a database; records live in memory.
	DryRun bool
}

func (h *HealthHandler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health)
	r.GET("/readyz", h.ready)
}

// @Summary Health check
// @Tags health
// @Success 200 {object} map[string]string
// @Router /healthz [get]
func (h *HealthHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary Readiness check
// @Tags health
// @Success 200 {object} map[string]string
// @Router /readyz [get]
func (h *HealthHandler) ready(c *gin.Context) {
	if h.DryRun {
		c.JSON(http.StatusOK, gin.H{"status": "ready", "store": "memory"})
		return
	}
	if h.DB == nil || h.DB.SQL == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_missing"})
		return
	}
	if err := db.Ping(c.Request.Context(), h.DB); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "store": "postgres"})
}
