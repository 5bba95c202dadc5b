package elevenlabs

import (
	"context"
	"fmt"
	"net/url"
)

type Agent struct {
	AgentID         string   `json:"agent_id"`
	Name            string   `json:"name"`
	CreatedAtUnixSecs int64   `json:"created_at_unix_secs"`
	Tags            []string `json:"tags,omitempty"`
}

type agentsPage struct {
	Agents     []Agent `json:"agents"`
	HasMore    bool    `json:"has_more"`
	NextCursor string  `json:"next_cursor"`
}

// ListAgents returns the agents visible to the API key, following pagination.
func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	agents := []Agent{}
	cursor := ""
	for page := 0; page < 50; page++ {
		path := "/convai/agents?page_size=100"
		if cursor != "" {
			path += "&cursor=" + url.QueryEscape(cursor)
		}

		resp, err := c.http.DoWithRetry(ctx, "list_agents", c.get(path))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		var body agentsPage
		if err := decode(resp, &body); err != nil {
			return nil, err
		}
		agents = append(agents, body.Agents...)

		if !body.HasMore || body.NextCursor == "" {
			break
		}
		cursor = body.NextCursor
	}
	return agents, nil
}
