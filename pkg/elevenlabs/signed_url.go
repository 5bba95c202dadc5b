package elevenlabs

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"
)

type signedURLResponse struct {
	SignedURL string `json:"signed_url"`
}

// GetSignedURL obtains a short-lived websocket URL for one conversation with agentID.
// It makes exactly one attempt; retrying is the caller's decision.
func (c *Client) GetSignedURL(ctx context.Context, agentID string) (string, error) {
	if agentID == "" {
		return "", fmt.Errorf("%w: agent id is required", ErrUpstreamAuth)
	}

	path := "/convai/conversation/get_signed_url?agent_id=" + url.QueryEscape(agentID)
	resp, err := c.http.Do(ctx, "get_signed_url", c.get(path))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	var body signedURLResponse
	if err := decode(resp, &body); err != nil {
		c.logger.Warn("Failed to obtain signed URL", zap.String("agent_id", agentID), zap.Error(err))
		return "", err
	}
	if body.SignedURL == "" {
		return "", fmt.Errorf("%w: empty signed_url", ErrUpstreamUnavailable)
	}
	return body.SignedURL, nil
}
