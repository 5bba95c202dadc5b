package elevenlabs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/troikatech/voice-relay/pkg/retry"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient("test-key", srv.URL+"/", time.Second, zap.NewNop())
	c.http.SetRetryConfig(retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1})
	return c
}

func TestGetSignedURL(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/convai/conversation/get_signed_url", r.URL.Path)
		assert.Equal(t, "agent-1", r.URL.Query().Get("agent_id"))
		assert.Equal(t, "test-key", r.Header.Get("xi-api-key"))
		_, _ = w.Write([]byte(`{"signed_url":"wss://example.test/convai?token=abc"}`))
	})

	got, err := c.GetSignedURL(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "wss://example.test/convai?token=abc", got)
}

func TestGetSignedURLErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, `{}`, ErrUpstreamAuth},
		{"forbidden", http.StatusForbidden, `{}`, ErrUpstreamAuth},
		{"server error", http.StatusBadGateway, `{}`, ErrUpstreamUnavailable},
		{"missing field", http.StatusOK, `{"url":"x"}`, ErrUpstreamUnavailable},
		{"garbage", http.StatusOK, `not json`, ErrUpstreamUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.GetSignedURL(context.Background(), "agent-1")
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, int32(1), hits.Load(), "signed URL requests are never retried")
		})
	}
}

func TestGetSignedURLUnreachable(t *testing.T) {
	c := NewClient("k", "http://127.0.0.1:1", 200*time.Millisecond, zap.NewNop())
	_, err := c.GetSignedURL(context.Background(), "agent-1")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}
