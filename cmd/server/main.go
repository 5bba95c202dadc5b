package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/troikatech/voice-relay/internal/api"
	"github.com/troikatech/voice-relay/internal/api/handlers"
	"github.com/troikatech/voice-relay/internal/dialer"
	"github.com/troikatech/voice-relay/internal/records"
	"github.com/troikatech/voice-relay/internal/reconcile"
	"github.com/troikatech/voice-relay/internal/relay"
	"github.com/troikatech/voice-relay/pkg/audit"
	"github.com/troikatech/voice-relay/pkg/elevenlabs"
	"github.com/troikatech/voice-relay/pkg/env"
	"github.com/troikatech/voice-relay/pkg/logger"
	"github.com/troikatech/voice-relay/pkg/mongo"
	"github.com/troikatech/voice-relay/pkg/otel"
	"github.com/troikatech/voice-relay/pkg/twilio"
)

func main() {
	cfg, err := env.Load(".env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.LogLevel, cfg.AppEnv); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if cfg.OTELEnabled {
		shutdown, err := otel.InitTracing("voice-relay", cfg.ServiceVersion, cfg.OTELEndpoint)
		if err != nil {
			logger.Log.Warn("Failed to initialize OpenTelemetry", zap.Error(err))
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(ctx)
			}()
			logger.Log.Info("OpenTelemetry tracing enabled", zap.String("endpoint", cfg.OTELEndpoint))
		}
	}

	logger.Log.Info("Starting voice relay",
		zap.String("env", cfg.AppEnv),
		zap.String("port", cfg.AppPort),
		zap.String("public_host", cfg.PublicHost),
	)

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Log.Fatal("Failed to parse Redis URL", zap.Error(err))
	}
	redisClient := redis.NewClient(opt)
	defer redisClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Log.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	mongoClient, err := mongo.NewClient(ctx, cfg.MongoURI, cfg.DBName, logger.Log)
	if err != nil {
		logger.Log.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mongoClient.Disconnect(ctx); err != nil {
			logger.Log.Warn("Failed to disconnect MongoDB", zap.Error(err))
		}
	}()

	store := records.NewMongoStore(mongoClient, cfg.CallRecordsCollection, logger.Log)
	if err := store.EnsureIndexes(ctx); err != nil {
		logger.Log.Fatal("Failed to ensure call record indexes", zap.Error(err))
	}

	voiceAI := elevenlabs.NewClient(
		cfg.ElevenLabsAPIKey,
		cfg.ElevenLabsBaseURL,
		time.Duration(cfg.ElevenLabsTimeoutMs)*time.Millisecond,
		logger.Log,
	)
	carrier := twilio.NewClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger.Log)

	pool := dialer.NewPool(carrier, store, cfg.DialMaxConcurrency, cfg.DialQueueSize, logger.Log)
	pool.Start()
	calls := dialer.NewService(store, pool, cfg.PublicHost, logger.Log)

	reconciler := reconcile.New(store, voiceAI, redisClient, cfg.ReconcileWindow(), logger.Log)
	var scheduler *reconcile.Scheduler
	if cfg.ReconcileSchedule != "" {
		scheduler, err = reconcile.NewScheduler(cfg.ReconcileSchedule, reconciler, logger.Log)
		if err != nil {
			logger.Log.Fatal("Invalid reconciliation schedule", zap.Error(err))
		}
		scheduler.Start()
	}

	keepalive := cfg.KeepaliveInterval()
	h := handlers.NewHandler(cfg, handlers.Services{
		Store:      store,
		Calls:      calls,
		Reconciler: reconciler,
		Agents:     voiceAI,
		Sessions: relay.Deps{
			Store:      store,
			Negotiator: voiceAI,
			NewVoiceLink: func() relay.VoiceAI {
				return relay.NewVoiceLink(logger.Log, keepalive)
			},
			Logger: logger.Log,
		},
		Audit: audit.NewTrail(mongoClient, logger.Log),
		Redis: redisClient,
		Mongo: mongoClient,
	}, logger.Log)

	router := api.NewRouter(cfg, h, redisClient, logger.Log)

	// No WriteTimeout: media streams are long lived and set their own deadlines.
	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Log.Info("Voice relay listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if scheduler != nil {
		scheduler.Stop(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Log.Warn("Dialer did not drain", zap.Error(err))
	}

	logger.Log.Info("Server exited")
}
