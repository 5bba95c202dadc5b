package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics exposes the default registry.
func (h *Handler) PrometheusMetrics() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
