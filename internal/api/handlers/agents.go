package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/troikatech/voice-relay/pkg/elevenlabs"
	apperrors "github.com/troikatech/voice-relay/pkg/errors"
)

type AgentsResponse struct {
	Success bool               `json:"success"`
	Agents  []elevenlabs.Agent `json:"agents"`
}

// ListAgents proxies the provider's agent list.
func (h *Handler) ListAgents(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	agents, err := h.agents.ListAgents(ctx)
	if err != nil {
		h.logger.Error("Failed to fetch agents", zap.Error(err))
		if errors.Is(err, elevenlabs.ErrUpstreamAuth) || errors.Is(err, elevenlabs.ErrUpstreamUnavailable) {
			apperrors.BadGateway(c, "voice provider did not return agents")
			return
		}
		apperrors.InternalError(c, err, h.logger)
		return
	}
	if agents == nil {
		agents = []elevenlabs.Agent{}
	}
	c.JSON(http.StatusOK, AgentsResponse{Success: true, Agents: agents})
}
