package records

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/troikatech/voice-relay/pkg/logger"
	"github.com/troikatech/voice-relay/pkg/mongo"
	"github.com/troikatech/voice-relay/pkg/otel"
	"github.com/troikatech/voice-relay/pkg/utils"
)

// MongoStore keeps call records in one collection. The (pk, sk) unique index is
// the primary key; a partial unique index on gsi1pk is the conversation index.
type MongoStore struct {
	client     *mongo.Client
	collection string
	logger     *zap.Logger
	now        func() time.Time
}

func NewMongoStore(client *mongo.Client, collection string, log *zap.Logger) *MongoStore {
	return &MongoStore{
		client:     client,
		collection: collection,
		logger:     log,
		now:        time.Now,
	}
}

// EnsureIndexes creates the primary and conversation indexes.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	return s.client.EnsureIndexes(ctx, s.collection, []driver.IndexModel{
		{
			Keys:    bson.D{{Key: "pk", Value: 1}, {Key: "sk", Value: 1}},
			Options: options.Index().SetName("pk_sk").SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "gsi1pk", Value: 1}},
			Options: options.Index().
				SetName("conversation_id_index").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"gsi1pk": bson.M{"$exists": true}}),
		},
	})
}

func (s *MongoStore) query() *mongo.QueryBuilder {
	return s.client.NewQuery(s.collection)
}

func (s *MongoStore) byKey(key Key) *mongo.QueryBuilder {
	return s.query().Eq("pk", key.PK()).Eq("sk", key.SK())
}

func (s *MongoStore) CreateRecord(ctx context.Context, in NewRecord) (*Record, error) {
	rec, err := in.Build(s.now())
	if err != nil {
		return nil, err
	}

	err = otel.WithDBSpan(ctx, s.collection, "insert", func(ctx context.Context) error {
		return s.query().Insert(ctx, rec)
	})
	if mongo.IsDuplicateKey(err) {
		return nil, fmt.Errorf("%w: %s/%s", ErrDuplicateKey, rec.PK, utils.MaskPhoneNumber(rec.SK))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create call record: %w", err)
	}
	return rec, nil
}

func (s *MongoStore) UpdateFields(ctx context.Context, key Key, fields Fields) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if err := fields.Validate(); err != nil {
		return err
	}

	set := bson.M{"updated_at": s.now().UTC()}
	for k, v := range fields {
		set[k] = v
	}

	q := s.byKey(key)
	conversationID, hasConversation := fields.ConversationID()
	if hasConversation {
		q.In(FieldConversationID, []string{UnsetConversationID, conversationID})
		set["gsi1pk"] = conversationID
	}

	var matched int64
	err := otel.WithDBSpan(ctx, s.collection, "update", func(ctx context.Context) error {
		var err error
		matched, err = q.UpdateOne(ctx, set)
		return err
	})
	if mongo.IsDuplicateKey(err) {
		// another record already owns this conversation id
		return fmt.Errorf("%w: %s", ErrConversationConflict, conversationID)
	}
	if err != nil {
		return fmt.Errorf("failed to update call record: %w", err)
	}
	if matched > 0 {
		return nil
	}

	exists, err := s.exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %s", ErrConversationConflict, conversationID)
}

func (s *MongoStore) AdvanceStage(ctx context.Context, key Key, to Stage) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	if !to.Valid() {
		return false, fmt.Errorf("%w: unknown stage %q", ErrInvalidField, to)
	}

	var matched int64
	err := otel.WithDBSpan(ctx, s.collection, "advance_stage", func(ctx context.Context) error {
		var err error
		matched, err = s.byKey(key).
			In("stage", Predecessors(to)).
			UpdateOne(ctx, bson.M{"stage": to, "updated_at": s.now().UTC()})
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to advance call stage: %w", err)
	}
	if matched > 0 {
		return true, nil
	}

	exists, err := s.exists(ctx, key)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}
	s.logger.Debug("Stage transition ignored", append(logger.CallFields(key.Destination, key.AgentID, key.CallDate),
		zap.String("to", string(to)))...)
	return false, nil
}

func (s *MongoStore) FindByConversationID(ctx context.Context, conversationID string) (*Record, error) {
	if conversationID == "" || conversationID == UnsetConversationID {
		return nil, nil
	}

	var rec Record
	var found bool
	err := otel.WithDBSpan(ctx, s.collection, "find_by_conversation", func(ctx context.Context) error {
		var err error
		found, err = s.query().Eq("gsi1pk", conversationID).FindOne(ctx, &rec)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation index: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

func (s *MongoStore) UpdateByConversationID(ctx context.Context, conversationID string, fields Fields) error {
	rec, err := s.FindByConversationID(ctx, conversationID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: conversation %s", ErrNotFound, conversationID)
	}
	return s.UpdateFields(ctx, rec.Key(), fields)
}

func (s *MongoStore) ListByDateAndAgent(ctx context.Context, callDate, agentID string) ([]Record, error) {
	out := []Record{}
	err := otel.WithDBSpan(ctx, s.collection, "list_partition", func(ctx context.Context) error {
		return s.query().
			Eq("pk", PartitionKey(agentID, callDate)).
			Sort("created_at", true).
			Find(ctx, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list call records: %w", err)
	}
	return out, nil
}

func (s *MongoStore) ListRecentlyCreated(ctx context.Context, window time.Duration) ([]Record, error) {
	now := s.now().UTC()
	out := []Record{}
	err := otel.WithDBSpan(ctx, s.collection, "list_recent", func(ctx context.Context) error {
		return s.query().
			Gte("created_at", now.Add(-window)).
			Lte("created_at", now).
			Find(ctx, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list recent call records: %w", err)
	}
	return out, nil
}

func (s *MongoStore) exists(ctx context.Context, key Key) (bool, error) {
	var n int64
	err := otel.WithDBSpan(ctx, s.collection, "count", func(ctx context.Context) error {
		var err error
		n, err = s.byKey(key).Count(ctx)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to look up call record: %w", err)
	}
	return n > 0, nil
}
