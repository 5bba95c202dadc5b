package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/troikatech/voice-relay/internal/records"
	"github.com/troikatech/voice-relay/pkg/logger"
	"github.com/troikatech/voice-relay/pkg/metrics"
	"github.com/troikatech/voice-relay/pkg/twilio"
	"github.com/troikatech/voice-relay/pkg/utils"
)

const statusDedupeTTL = 24 * time.Hour

// CallStatusCallback applies a Twilio call progress event to the call record.
// Once the request is well formed the answer is always 200 so Twilio does not retry.
func (h *Handler) CallStatusCallback(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.String(http.StatusBadRequest, "Malformed form body")
		return
	}
	form := c.Request.PostForm

	fullURL := "https://" + h.cfg.PublicHost + c.Request.URL.RequestURI()
	if err := h.signatures.Verify(fullURL, form, c.GetHeader(twilio.SignatureHeader)); err != nil {
		h.logger.Warn("Rejected status callback", zap.Error(err), zap.String("remote_addr", c.ClientIP()))
		metrics.StatusCallback("", "unauthorized")
		c.String(http.StatusUnauthorized, "Invalid signature")
		return
	}

	to := form.Get("To")
	status := form.Get("CallStatus")
	country := form.Get("ToCountry")
	if to == "" || status == "" || country == "" {
		h.logger.Warn("Status callback missing parameters",
			logger.MaskPhoneIfPresent("to", to),
			zap.String("status", status),
			zap.String("country", country),
		)
		metrics.StatusCallback(status, "invalid")
		c.String(http.StatusBadRequest, "Missing required parameters")
		return
	}

	result := h.applyCallStatus(c.Request.Context(), c.Query("agent_id"), c.Query("call_date"), to, status, country)
	metrics.StatusCallback(status, result)
	c.String(http.StatusOK, "OK")
}

// applyCallStatus returns the outcome label recorded in metrics.
func (h *Handler) applyCallStatus(ctx context.Context, agentID, callDate, to, status, country string) string {
	log := h.logger.With(
		logger.MaskPhone("to", to),
		zap.String("agent_id", agentID),
		zap.String("status", status),
	)

	if !h.cfg.CountryAllowed(country) {
		log.Warn("Ignoring status for disallowed country", zap.String("country", country))
		return "ignored_country"
	}

	stage, ok := records.ParseCarrierStatus(status)
	if !ok {
		log.Warn("Unknown carrier call status")
		return "unknown_status"
	}

	if callDate == "" {
		callDate = utils.CallDate(h.now())
	}
	key := records.Key{AgentID: agentID, CallDate: callDate, Destination: to}
	if err := key.Validate(); err != nil {
		log.Warn("Status callback does not identify a call record", zap.Error(err))
		return "invalid_key"
	}

	dedupeKey := fmt.Sprintf("voice-relay:status:%s:%s:%s", key.PK(), key.SK(), status)
	if !h.firstDelivery(ctx, dedupeKey) {
		log.Debug("Duplicate status callback")
		return "duplicate"
	}

	advanced, err := h.store.AdvanceStage(ctx, key, stage)
	switch {
	case errors.Is(err, records.ErrNotFound):
		log.Warn("Status callback for unknown call record")
		return "not_found"
	case err != nil:
		log.Error("Failed to apply call status", zap.Error(err))
		h.forgetDelivery(dedupeKey)
		return "error"
	case !advanced:
		log.Debug("Call status did not advance stage", zap.String("stage", string(stage)))
		return "noop"
	}
	log.Info("Call stage advanced", zap.String("stage", string(stage)))
	return "advanced"
}

// firstDelivery drops redelivered callbacks early. Without redis, or when redis
// fails, every delivery passes and the store's transition guard decides.
func (h *Handler) firstDelivery(ctx context.Context, dedupeKey string) bool {
	if h.redis == nil {
		return true
	}
	ok, err := h.redis.SetNX(ctx, dedupeKey, 1, statusDedupeTTL).Result()
	if err != nil {
		h.logger.Warn("Status dedupe unavailable", zap.Error(err))
		return true
	}
	return ok
}

// forgetDelivery lets a redelivery retry a write that failed.
func (h *Handler) forgetDelivery(dedupeKey string) {
	if h.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.redis.Del(ctx, dedupeKey).Err(); err != nil {
		h.logger.Warn("Failed to clear status dedupe key", zap.Error(err))
	}
}
