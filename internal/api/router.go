package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/troikatech/voice-relay/internal/api/handlers"
	"github.com/troikatech/voice-relay/pkg/env"
	"github.com/troikatech/voice-relay/pkg/middleware"
	"github.com/troikatech/voice-relay/pkg/otel"
)

// NewRouter wires every route. redisClient may be nil, in which case rate
// limiting and idempotency replay are off.
func NewRouter(cfg *env.Config, h *handlers.Handler, redisClient *redis.Client, log *zap.Logger) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.TraceMiddleware())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestSizeLimit(1 << 20))

	if cfg.OTELEnabled {
		router.Use(otel.GinMiddleware())
	}

	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("[%s] %s %s %d %s\n",
			param.TimeStamp.Format(time.RFC3339),
			param.Method,
			param.Path,
			param.StatusCode,
			param.Latency,
		)
	}))

	corsConfig := cors.DefaultConfig()
	if cfg.CORSAllowedOrigins == "*" || cfg.CORSAllowedOrigins == "" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key"}
	router.Use(cors.New(corsConfig))

	router.GET("/health", h.HealthCheck)
	router.GET("/metrics", h.PrometheusMetrics())

	// Carrier facing. Twilio fetches TwiML with the method configured on the call.
	router.GET("/outbound-call-twiml", h.OutboundCallTwiML)
	router.POST("/outbound-call-twiml", h.OutboundCallTwiML)
	router.POST("/callbacks/call-status", h.CallStatusCallback)
	router.GET("/outbound-media-stream", h.OutboundMediaStream)

	createCall := []gin.HandlerFunc{}
	if redisClient != nil {
		limiter := middleware.NewRateLimiter(redisClient, "calls", cfg.APIRateLimitRPM, log)
		createCall = append(createCall, limiter.Middleware(), middleware.IdempotencyMiddleware(redisClient))
	}
	router.POST("/calls", append(createCall, h.CreateCall)...)

	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience))
	if redisClient != nil {
		api.Use(middleware.NewRateLimiter(redisClient, "api", cfg.APIRateLimitRPM, log).Middleware())
		api.Use(middleware.IdempotencyMiddleware(redisClient))
	}
	{
		api.GET("/records/:agent_id/:date",
			middleware.ValidateAgentParam("agent_id"),
			middleware.ValidateDateParam("date"),
			h.ListRecords,
		)
		api.GET("/reports/:agent_id/:date",
			middleware.ValidateAgentParam("agent_id"),
			middleware.ValidateDateParam("date"),
			h.DownloadReport,
		)
		api.POST("/reconcile", h.TriggerReconcile)
		api.GET("/agents", h.ListAgents)
	}

	return router
}
