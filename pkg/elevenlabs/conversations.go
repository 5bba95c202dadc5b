package elevenlabs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// vitalKeys are the data-collection items copied onto call records.
var vitalKeys = []string{
	"Diastolic blood pressure",
	"blood glucose level",
	"Systolic blood pressure",
}

type Conversation struct {
	ConversationID string    `json:"conversation_id"`
	AgentID        string    `json:"agent_id"`
	Status         string    `json:"status"`
	Analysis       *Analysis `json:"analysis"`
}

type Analysis struct {
	CallSuccessful            string                         `json:"call_successful"`
	TranscriptSummary         string                         `json:"transcript_summary"`
	EvaluationCriteriaResults map[string]CriteriaResult      `json:"evaluation_criteria_results"`
	DataCollectionResults     map[string]DataCollectionValue `json:"data_collection_results"`
}

type CriteriaResult struct {
	CriteriaID string `json:"criteria_id"`
	Result     string `json:"result"`
	Rationale  string `json:"rationale"`
}

type DataCollectionValue struct {
	DataCollectionID string          `json:"data_collection_id"`
	Value            json.RawMessage `json:"value"`
	Rationale        string          `json:"rationale"`
}

// GetConversation fetches a finished conversation, retrying transient failures.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	resp, err := c.http.DoWithRetry(ctx, "get_conversation", c.get("/convai/conversations/"+url.PathEscape(conversationID)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	var conv Conversation
	if err := decode(resp, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// EvaluationFields flattens the analysis into record fields: one entry per
// evaluation criterion, the tracked vitals in snake_case, and call_successful.
// It returns an empty map when the analysis is not ready yet.
func (c *Conversation) EvaluationFields() map[string]interface{} {
	out := map[string]interface{}{}
	if c == nil || c.Analysis == nil {
		return out
	}
	a := c.Analysis

	for criteria, result := range a.EvaluationCriteriaResults {
		out[criteria] = result.Result
	}

	for _, key := range vitalKeys {
		item, ok := a.DataCollectionResults[key]
		if !ok || len(item.Value) == 0 || string(item.Value) == "null" {
			continue
		}
		var value interface{}
		if err := json.Unmarshal(item.Value, &value); err != nil {
			continue
		}
		out[snakeCase(key)] = value
	}

	if a.CallSuccessful != "" {
		out["call_successful"] = a.CallSuccessful
	}
	return out
}

func snakeCase(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), " ", "_")
}
