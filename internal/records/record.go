package records

import (
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/troikatech/voice-relay/pkg/utils"
)

// UnsetConversationID marks a record whose voice-AI handshake has not completed.
const UnsetConversationID = "nil"

const partitionPrefix = "AICalling"

// PartitionKey groups one agent's calls for one UTC calendar day.
func PartitionKey(agentID, callDate string) string {
	return fmt.Sprintf("%s#%s#%s", partitionPrefix, agentID, callDate)
}

// Key is the primary key of a call record.
type Key struct {
	AgentID     string
	CallDate    string
	Destination string
}

func (k Key) PK() string { return PartitionKey(k.AgentID, k.CallDate) }
func (k Key) SK() string { return k.Destination }

func (k Key) Validate() error {
	if k.AgentID == "" || k.Destination == "" {
		return fmt.Errorf("%w: agent id and destination are required", ErrInvalidKey)
	}
	if !utils.ValidCallDate(k.CallDate) {
		return fmt.Errorf("%w: call date %q is not YYYY-MM-DD", ErrInvalidKey, k.CallDate)
	}
	return nil
}

// Record is one call, identified by (agent, calling day, destination number).
type Record struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	PK             string    `bson:"pk" json:"-"`
	SK             string    `bson:"sk" json:"destination"`
	AgentID        string    `bson:"agent_id" json:"agent_id"`
	CallDate       string    `bson:"call_date" json:"call_date"`
	Stage          Stage     `bson:"stage" json:"stage"`
	ConversationID string    `bson:"conversation_id" json:"conversation_id,omitempty"`
	GSI1PK         string    `bson:"gsi1pk,omitempty" json:"-"`
	Prompt         string    `bson:"prompt" json:"prompt"`
	ScheduledTime  string    `bson:"time" json:"time"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at" json:"updated_at"`

	CallSID       string     `bson:"call_sid,omitempty" json:"call_sid,omitempty"`
	StreamSID     string     `bson:"stream_sid,omitempty" json:"stream_sid,omitempty"`
	StreamEndedAt *time.Time `bson:"stream_ended_at,omitempty" json:"stream_ended_at,omitempty"`

	// Evaluation holds post-call fields written by reconciliation.
	Evaluation map[string]interface{} `bson:",inline" json:"evaluation,omitempty"`
}

func (r *Record) Key() Key {
	return Key{AgentID: r.AgentID, CallDate: r.CallDate, Destination: r.SK}
}

// HasConversation reports whether the voice-AI handshake id has been recorded.
func (r *Record) HasConversation() bool {
	return r.ConversationID != "" && r.ConversationID != UnsetConversationID
}

// Field returns a top-level field by its stored name, for report rendering.
func (r *Record) Field(name string) (interface{}, bool) {
	switch name {
	case "stage":
		return string(r.Stage), true
	case "time":
		return r.ScheduledTime, true
	case "conversation_id":
		return r.ConversationID, r.HasConversation()
	}
	v, ok := r.Evaluation[name]
	return v, ok
}

func (r Record) MarshalJSON() ([]byte, error) {
	type plain Record
	out := plain(r)
	if !r.HasConversation() {
		out.ConversationID = ""
	}
	return json.Marshal(out)
}

// NewRecord carries the immutable call-script metadata set at creation.
type NewRecord struct {
	Destination   string
	AgentID       string
	Prompt        string
	ScheduledTime string
	Stage         Stage
}

// Build materializes a record created at now.
func (n NewRecord) Build(now time.Time) (*Record, error) {
	stage := n.Stage
	if stage == "" {
		stage = StageInitiated
	}
	if !stage.Valid() {
		return nil, fmt.Errorf("%w: unknown stage %q", ErrInvalidField, stage)
	}
	key := Key{AgentID: n.AgentID, CallDate: utils.CallDate(now), Destination: n.Destination}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	now = now.UTC()
	return &Record{
		PK:             key.PK(),
		SK:             key.SK(),
		AgentID:        key.AgentID,
		CallDate:       key.CallDate,
		Stage:          stage,
		ConversationID: UnsetConversationID,
		Prompt:         n.Prompt,
		ScheduledTime:  n.ScheduledTime,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}
