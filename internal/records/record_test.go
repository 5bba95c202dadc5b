package records

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecordBuild(t *testing.T) {
	now := time.Date(2024, 5, 1, 23, 30, 0, 0, time.FixedZone("X", -2*3600))
	rec, err := NewRecord{
		Destination:   "+6598765432",
		AgentID:       "agent_1",
		Prompt:        "remind about medicine",
		ScheduledTime: "09:00",
	}.Build(now)
	require.NoError(t, err)

	assert.Equal(t, "AICalling#agent_1#2024-05-02", rec.PK)
	assert.Equal(t, "+6598765432", rec.SK)
	assert.Equal(t, StageInitiated, rec.Stage)
	assert.Equal(t, UnsetConversationID, rec.ConversationID)
	assert.False(t, rec.HasConversation())
	assert.Empty(t, rec.GSI1PK)
	assert.Equal(t, now.UTC(), rec.CreatedAt)
	assert.Equal(t, Key{AgentID: "agent_1", CallDate: "2024-05-02", Destination: "+6598765432"}, rec.Key())
}

func TestNewRecordBuildRejectsBadInput(t *testing.T) {
	_, err := NewRecord{AgentID: "agent_1"}.Build(time.Now())
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewRecord{AgentID: "a", Destination: "+1", Stage: "dialing"}.Build(time.Now())
	assert.ErrorIs(t, err, ErrInvalidField)
}

func TestFieldsValidate(t *testing.T) {
	tests := []struct {
		name   string
		fields Fields
		ok     bool
	}{
		{"evaluation fields", Fields{"medicine_taken": "success", "systolic_blood_pressure": 120}, true},
		{"conversation id", Fields{"conversation_id": "conv_1"}, true},
		{"empty", Fields{}, false},
		{"stage is owned by AdvanceStage", Fields{"stage": "completed"}, false},
		{"prompt is immutable", Fields{"prompt": "x"}, false},
		{"sentinel conversation id", Fields{"conversation_id": UnsetConversationID}, false},
		{"non-string conversation id", Fields{"conversation_id": 7}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fields.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidField)
			}
		})
	}
}

func TestRecordJSONHidesSentinel(t *testing.T) {
	rec := Record{SK: "+6598765432", ConversationID: UnsetConversationID, Stage: StageRinging}
	raw, err := json.Marshal(rec)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.NotContains(t, out, "conversation_id")
	assert.Equal(t, "ringing", out["stage"])
	assert.Equal(t, "+6598765432", out["destination"])
}

func TestRecordField(t *testing.T) {
	rec := Record{Stage: StageCompleted, ScheduledTime: "09:00", Evaluation: map[string]interface{}{"blood_glucose_level": 5.4}}
	v, ok := rec.Field("stage")
	assert.True(t, ok)
	assert.Equal(t, "completed", v)
	v, ok = rec.Field("blood_glucose_level")
	assert.True(t, ok)
	assert.Equal(t, 5.4, v)
	_, ok = rec.Field("medicine_taken")
	assert.False(t, ok)
}
