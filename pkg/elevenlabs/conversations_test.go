package elevenlabs

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const conversationBody = `{
  "conversation_id": "conv-1",
  "agent_id": "agent-1",
  "status": "done",
  "analysis": {
    "call_successful": "success",
    "evaluation_criteria_results": {
      "medicine_taken": {"criteria_id": "medicine_taken", "result": "success", "rationale": "said yes"}
    },
    "data_collection_results": {
      "Systolic blood pressure": {"data_collection_id": "Systolic blood pressure", "value": 120},
      "Diastolic blood pressure": {"data_collection_id": "Diastolic blood pressure", "value": null},
      "blood glucose level": {"data_collection_id": "blood glucose level", "value": "5.4"},
      "Heart rate": {"data_collection_id": "Heart rate", "value": 70}
    }
  }
}`

func TestGetConversationEvaluationFields(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "/convai/conversations/conv-1", r.URL.Path)
		_, _ = w.Write([]byte(conversationBody))
	})

	conv, err := c.GetConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())

	fields := conv.EvaluationFields()
	assert.Equal(t, map[string]interface{}{
		"medicine_taken":          "success",
		"systolic_blood_pressure": float64(120),
		"blood_glucose_level":     "5.4",
		"call_successful":         "success",
	}, fields)
}

func TestEvaluationFieldsWithoutAnalysis(t *testing.T) {
	assert.Empty(t, (&Conversation{ConversationID: "c"}).EvaluationFields())
	var nilConv *Conversation
	assert.Empty(t, nilConv.EvaluationFields())
}

func TestGetConversationNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := c.GetConversation(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAgentsFollowsCursor(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cursor") == "" {
			_, _ = w.Write([]byte(`{"agents":[{"agent_id":"a1","name":"Reminders"}],"has_more":true,"next_cursor":"p2"}`))
			return
		}
		_, _ = w.Write([]byte(`{"agents":[{"agent_id":"a2","name":"Vitals"}],"has_more":false}`))
	})

	agents, err := c.ListAgents(context.Background())
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "a1", agents[0].AgentID)
	assert.Equal(t, "Vitals", agents[1].Name)
}
