package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/troikatech/voice-relay/internal/dialer"
	"github.com/troikatech/voice-relay/internal/records"
	apperrors "github.com/troikatech/voice-relay/pkg/errors"
	"github.com/troikatech/voice-relay/pkg/logger"
	"github.com/troikatech/voice-relay/pkg/metrics"
)

type CreateCallResponse struct {
	Message string          `json:"message"`
	Record  *records.Record `json:"record"`
}

// CreateCall stores a new call record and queues the outbound dial.
func (h *Handler) CreateCall(c *gin.Context) {
	start := time.Now()
	var req dialer.CallInput
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.RecordRequest("/calls", false, time.Since(start))
		apperrors.BadRequest(c, err.Error())
		return
	}

	rec, err := h.calls.CreateCall(c.Request.Context(), req)
	metrics.RecordRequest("/calls", err == nil, time.Since(start))
	if err != nil {
		switch {
		case errors.Is(err, dialer.ErrInvalidDestination), errors.Is(err, records.ErrInvalidKey):
			apperrors.BadRequest(c, err.Error())
		case errors.Is(err, records.ErrDuplicateKey):
			apperrors.Conflict(c, "a call to this number is already recorded for today")
		case errors.Is(err, dialer.ErrQueueFull), errors.Is(err, dialer.ErrStopped):
			apperrors.ServiceUnavailable(c, "call queue is not accepting work, retry later")
		default:
			apperrors.InternalError(c, err, h.logger)
		}
		return
	}

	h.logger.Info("Call queued",
		logger.MaskPhone("to", rec.SK),
		zap.String("agent_id", rec.AgentID),
		zap.String("call_date", rec.CallDate),
	)
	c.JSON(http.StatusCreated, CreateCallResponse{
		Message: "Reminder task created successfully",
		Record:  rec,
	})
}
