package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/troikatech/voice-relay/internal/dialer"
	"github.com/troikatech/voice-relay/internal/records"
	"github.com/troikatech/voice-relay/internal/reconcile"
	"github.com/troikatech/voice-relay/internal/relay"
	"github.com/troikatech/voice-relay/pkg/audit"
	"github.com/troikatech/voice-relay/pkg/elevenlabs"
	"github.com/troikatech/voice-relay/pkg/env"
	"github.com/troikatech/voice-relay/pkg/twilio"
)

// CallCreator creates call records and schedules their placement.
type CallCreator interface {
	CreateCall(ctx context.Context, in dialer.CallInput) (*records.Record, error)
}

// Reconciler backfills post-call analysis.
type Reconciler interface {
	Run(ctx context.Context, window time.Duration) (reconcile.Result, error)
	Window() time.Duration
}

// AgentLister lists the provider's conversational agents.
type AgentLister interface {
	ListAgents(ctx context.Context) ([]elevenlabs.Agent, error)
}

// Auditor records operator actions.
type Auditor interface {
	Record(ctx context.Context, actor string, action audit.Action, resource string, metadata map[string]interface{}) error
}

// Pinger is a dependency the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services are the collaborators handlers delegate to. Audit, Redis and Mongo
// may be nil; features backed by them are then skipped.
type Services struct {
	Store      records.Store
	Calls      CallCreator
	Reconciler Reconciler
	Agents     AgentLister
	Sessions   relay.Deps
	Audit      Auditor
	Redis      *redis.Client
	Mongo      Pinger
}

type Handler struct {
	cfg        *env.Config
	store      records.Store
	calls      CallCreator
	reconciler Reconciler
	agents     AgentLister
	sessions   relay.Deps
	signatures *twilio.SignatureValidator
	audit      Auditor
	redis      *redis.Client
	mongo      Pinger
	upgrader   websocket.Upgrader
	logger     *zap.Logger
	now        func() time.Time
}

func NewHandler(cfg *env.Config, svc Services, log *zap.Logger) *Handler {
	return &Handler{
		cfg:        cfg,
		store:      svc.Store,
		calls:      svc.Calls,
		reconciler: svc.Reconciler,
		agents:     svc.Agents,
		sessions:   svc.Sessions,
		signatures: twilio.NewSignatureValidator(cfg.TwilioAuthToken, cfg.TwilioValidateSignature),
		audit:      svc.Audit,
		redis:      svc.Redis,
		mongo:      svc.Mongo,
		upgrader:   newMediaUpgrader(cfg, log),
		logger:     log,
		now:        time.Now,
	}
}

// recordAudit never fails the request; the trail logs its own errors.
func (h *Handler) recordAudit(c *gin.Context, action audit.Action, resource string, metadata map[string]interface{}) {
	if h.audit == nil {
		return
	}
	_ = h.audit.Record(c.Request.Context(), c.GetString("operator"), action, resource, metadata)
}
