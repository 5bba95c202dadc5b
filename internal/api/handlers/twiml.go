package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/troikatech/voice-relay/pkg/errors"
	"github.com/troikatech/voice-relay/pkg/logger"
	"github.com/troikatech/voice-relay/pkg/twilio"
)

// streamParams are forwarded to the media stream as custom parameters.
var streamParams = []string{
	"first_message", "time", "calling_to", "prompt", "phone_number", "agent_id", "call_date",
}

// OutboundCallTwiML tells Twilio to connect the answered call to our media stream.
func (h *Handler) OutboundCallTwiML(c *gin.Context) {
	params := make(map[string]string, len(streamParams))
	for _, name := range streamParams {
		if value, ok := c.GetQuery(name); ok {
			params[name] = value
		}
	}
	if params["calling_to"] == "" || params["agent_id"] == "" {
		apperrors.ErrorResponse(c, http.StatusUnprocessableEntity, "", "calling_to and agent_id are required")
		return
	}

	body, err := twilio.StreamTwiML(twilio.MediaStreamURL(h.cfg.PublicHost), params)
	if err != nil {
		apperrors.InternalError(c, err, h.logger)
		return
	}

	h.logger.Debug("Serving stream TwiML",
		logger.MaskPhone("to", params["calling_to"]),
		zap.String("agent_id", params["agent_id"]),
	)
	c.Data(http.StatusOK, "application/xml", []byte(body))
}
