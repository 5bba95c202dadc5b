package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/troikatech/voice-relay/internal/records"
	"github.com/troikatech/voice-relay/pkg/elevenlabs"
	"github.com/troikatech/voice-relay/pkg/metrics"
)

const (
	lockKey = "voice-relay:reconcile:lock"
	lockTTL = 15 * time.Minute
)

var ErrAlreadyRunning = errors.New("reconciliation already running")

// AnalysisSource fetches post-call analysis for a conversation.
type AnalysisSource interface {
	GetConversation(ctx context.Context, conversationID string) (*elevenlabs.Conversation, error)
}

// Result summarizes one reconciliation run.
type Result struct {
	RunID   string `json:"run_id"`
	Scanned int    `json:"scanned"`
	Skipped int    `json:"skipped"`
	Updated int    `json:"updated"`
	Failed  int    `json:"failed"`
}

// Reconciler copies post-call analysis onto recently created call records.
type Reconciler struct {
	store  records.Store
	source AnalysisSource
	redis  *redis.Client
	window time.Duration
	logger *zap.Logger
}

// New builds a Reconciler. rdb may be nil, in which case runs are not locked.
func New(store records.Store, source AnalysisSource, rdb *redis.Client, window time.Duration, log *zap.Logger) *Reconciler {
	return &Reconciler{store: store, source: source, redis: rdb, window: window, logger: log}
}

func (r *Reconciler) Window() time.Duration { return r.window }

// Run reconciles every record created within window (the configured window
// when window <= 0). One record's failure never aborts the batch.
func (r *Reconciler) Run(ctx context.Context, window time.Duration) (Result, error) {
	if window <= 0 {
		window = r.window
	}
	res := Result{RunID: uuid.NewString()}
	log := r.logger.With(zap.String("run_id", res.RunID), zap.Duration("window", window))

	release, err := r.lock(ctx, res.RunID)
	if err != nil {
		return res, err
	}
	defer release()

	recent, err := r.store.ListRecentlyCreated(ctx, window)
	if err != nil {
		return res, fmt.Errorf("failed to list recent call records: %w", err)
	}
	log.Info("Reconciliation started", zap.Int("records", len(recent)))

	for i := range recent {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		rec := &recent[i]
		res.Scanned++
		if !rec.HasConversation() {
			res.Skipped++
			metrics.Reconciled("skipped")
			continue
		}

		if err := r.reconcileOne(ctx, rec.ConversationID); err != nil {
			res.Failed++
			metrics.Reconciled("failed")
			log.Warn("Failed to reconcile call record",
				zap.String("conversation_id", rec.ConversationID),
				zap.Error(err),
			)
			continue
		}
		res.Updated++
		metrics.Reconciled("updated")
	}

	log.Info("Reconciliation finished",
		zap.Int("scanned", res.Scanned),
		zap.Int("updated", res.Updated),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, conversationID string) error {
	conv, err := r.source.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	fields := conv.EvaluationFields()
	if len(fields) == 0 {
		// analysis not ready yet; the next run picks it up
		return nil
	}
	return r.store.UpdateByConversationID(ctx, conversationID, records.Fields(fields))
}

// lock takes the cluster-wide run lock. The returned func releases it only if we still own it.
func (r *Reconciler) lock(ctx context.Context, runID string) (func(), error) {
	if r.redis == nil {
		return func() {}, nil
	}
	taken, err := r.redis.SetNX(ctx, lockKey, runID, lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to take reconciliation lock: %w", err)
	}
	if !taken {
		return nil, ErrAlreadyRunning
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		owner, err := r.redis.Get(ctx, lockKey).Result()
		if err == nil && owner == runID {
			r.redis.Del(ctx, lockKey)
		}
	}, nil
}
