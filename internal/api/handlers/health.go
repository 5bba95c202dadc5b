package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

func (h *Handler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	services := map[string]string{
		"api":      "healthy",
		"database": "disabled",
		"redis":    "disabled",
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			services["redis"] = "unhealthy"
		} else {
			services["redis"] = "healthy"
		}
	}

	if h.mongo != nil {
		if err := h.mongo.Ping(ctx); err != nil {
			services["database"] = "unhealthy"
		} else {
			services["database"] = "healthy"
		}
	}

	overallStatus := "healthy"
	code := http.StatusOK
	if services["database"] == "unhealthy" {
		overallStatus = "unhealthy"
		code = http.StatusServiceUnavailable
	} else if services["redis"] == "unhealthy" {
		// redis only backs dedupe, rate limits and locks; calls still work
		overallStatus = "degraded"
	}

	c.JSON(code, HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  services,
	})
}
