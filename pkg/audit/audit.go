// Package audit keeps a trail of operator actions on call data.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/troikatech/voice-relay/pkg/mongo"
	"github.com/troikatech/voice-relay/pkg/otel"
)

const collection = "audit_log"

// Action represents an audit action
type Action string

const (
	ActionListRecords    Action = "records.list"
	ActionDownloadReport Action = "report.download"
	ActionReconcile      Action = "reconcile.trigger"
)

// Event is one stored audit entry.
type Event struct {
	Actor     string                 `bson:"actor"`
	Action    Action                 `bson:"action"`
	Resource  string                 `bson:"resource"`
	Metadata  map[string]interface{} `bson:"metadata,omitempty"`
	CreatedAt time.Time              `bson:"created_at"`
}

// Trail writes audit events to MongoDB.
type Trail struct {
	client *mongo.Client
	logger *zap.Logger
	now    func() time.Time
}

func NewTrail(client *mongo.Client, log *zap.Logger) *Trail {
	return &Trail{client: client, logger: log, now: time.Now}
}

// Record stores an event. A nil trail or client skips the write.
func (t *Trail) Record(ctx context.Context, actor string, action Action, resource string, metadata map[string]interface{}) error {
	if t == nil || t.client == nil {
		return nil
	}
	ev := Event{
		Actor:     actor,
		Action:    action,
		Resource:  resource,
		Metadata:  metadata,
		CreatedAt: t.now().UTC(),
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := otel.WithDBSpan(ctx, collection, "insert", func(ctx context.Context) error {
		return t.client.NewQuery(collection).Insert(ctx, ev)
	})
	if err != nil {
		t.logger.Error("Failed to log audit event",
			zap.Error(err),
			zap.String("action", string(action)),
			zap.String("resource", resource),
		)
		return err
	}
	return nil
}
