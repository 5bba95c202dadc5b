package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/troikatech/voice-relay/pkg/client"
)

const (
	DefaultBaseURL = "https://api.elevenlabs.io/v1"
	apiKeyHeader   = "xi-api-key"
)

var (
	// ErrUpstreamAuth means the provider rejected our API key or agent.
	ErrUpstreamAuth = errors.New("elevenlabs rejected credentials")
	// ErrUpstreamUnavailable covers transport failures, 5xx and unusable answers.
	ErrUpstreamUnavailable = errors.New("elevenlabs unavailable")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("elevenlabs resource not found")
)

// Client talks to the ElevenLabs conversational AI REST API.
type Client struct {
	apiKey  string
	baseURL string
	http    *client.HTTPClient
	logger  *zap.Logger
}

func NewClient(apiKey, baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    client.NewHTTPClient("elevenlabs", timeout),
		logger:  log,
	}
}

func (c *Client) get(path string) client.RequestFunc {
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set(apiKeyHeader, c.apiKey)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}
}

// decode classifies the status code and unmarshals a 2xx body into out.
func decode(resp *client.Response, out interface{}) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrUpstreamAuth, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: status %d", ErrNotFound, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: ElevenLabs API error: %d - %s", ErrUpstreamUnavailable, resp.StatusCode, truncate(resp.Body))
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", ErrUpstreamUnavailable, err)
	}
	return nil
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
