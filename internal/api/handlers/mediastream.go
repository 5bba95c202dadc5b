package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/troikatech/voice-relay/internal/relay"
	"github.com/troikatech/voice-relay/pkg/env"
)

// newMediaUpgrader accepts Twilio media streams. Twilio sends no Origin
// header; browsers do, and only our own host is let through outside development.
func newMediaUpgrader(cfg *env.Config, log *zap.Logger) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || cfg.AppEnv == "development" {
				return true
			}
			if cfg.PublicHost != "" && strings.EqualFold(origin, "https://"+cfg.PublicHost) {
				return true
			}
			log.Warn("Media stream rejected - invalid origin",
				zap.String("origin", origin),
				zap.String("remote_addr", r.RemoteAddr),
			)
			return false
		},
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
}

// OutboundMediaStream runs one relay session for the life of the carrier
// websocket. Session errors are logged here and never sent to the carrier.
func (h *Handler) OutboundMediaStream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade media stream",
			zap.Error(err),
			zap.String("remote_addr", c.Request.RemoteAddr),
		)
		return
	}

	link := relay.NewTelephonyLink(conn, h.logger)
	session := relay.NewSession(link, h.sessions)
	h.logger.Info("Media stream connected",
		zap.String("session_id", session.ID()),
		zap.String("remote_addr", c.Request.RemoteAddr),
	)

	if err := session.Run(c.Request.Context()); err != nil {
		h.logger.Error("Relay session failed", zap.String("session_id", session.ID()), zap.Error(err))
	}
}
