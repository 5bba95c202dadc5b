package records

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound             = errors.New("call record not found")
	ErrDuplicateKey         = errors.New("call record already exists")
	ErrConversationConflict = errors.New("call record already bound to a different conversation")
	ErrInvalidKey           = errors.New("invalid call record key")
	ErrInvalidField         = errors.New("invalid call record field")
)

// Fields is a partial update applied with field-level SET semantics.
type Fields map[string]interface{}

// FieldConversationID is special-cased: it is set once and mirrored into the secondary index.
const FieldConversationID = "conversation_id"

// immutable fields are owned by creation or by AdvanceStage.
var immutable = map[string]bool{
	"_id": true, "pk": true, "sk": true, "agent_id": true, "call_date": true,
	"created_at": true, "prompt": true, "time": true, "gsi1pk": true,
	"stage": true, "updated_at": true,
}

// Validate rejects updates that touch immutable fields or carry an unusable conversation id.
func (f Fields) Validate() error {
	if len(f) == 0 {
		return fmt.Errorf("%w: empty update", ErrInvalidField)
	}
	for name, value := range f {
		if immutable[name] {
			return fmt.Errorf("%w: %s cannot be updated", ErrInvalidField, name)
		}
		if name == FieldConversationID {
			id, ok := value.(string)
			if !ok || id == "" || id == UnsetConversationID {
				return fmt.Errorf("%w: conversation_id must be a non-empty string", ErrInvalidField)
			}
		}
	}
	return nil
}

// ConversationID returns the conversation id carried by the update, if any.
func (f Fields) ConversationID() (string, bool) {
	id, ok := f[FieldConversationID].(string)
	return id, ok
}

// Store persists call records. Implementations must apply each operation as an
// atomic per-record conditional update.
type Store interface {
	// CreateRecord inserts a new record keyed by (agent, today UTC, destination).
	// An existing record for the key yields ErrDuplicateKey.
	CreateRecord(ctx context.Context, rec NewRecord) (*Record, error)

	// UpdateFields sets fields on the record. A conversation_id is set at most
	// once and also indexed; a different later value yields ErrConversationConflict.
	UpdateFields(ctx context.Context, key Key, fields Fields) error

	// AdvanceStage moves the record forward along the stage graph. It returns
	// false without error when the move is not allowed (replay, backwards, terminal).
	AdvanceStage(ctx context.Context, key Key, to Stage) (bool, error)

	// FindByConversationID returns nil, nil when nothing matches.
	FindByConversationID(ctx context.Context, conversationID string) (*Record, error)

	// UpdateByConversationID resolves the record through the secondary index first.
	UpdateByConversationID(ctx context.Context, conversationID string, fields Fields) error

	ListByDateAndAgent(ctx context.Context, callDate, agentID string) ([]Record, error)

	// ListRecentlyCreated returns records with created_at in [now-window, now].
	ListRecentlyCreated(ctx context.Context, window time.Duration) ([]Record, error)
}
