package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/troikatech/voice-relay/internal/records"
	"github.com/troikatech/voice-relay/internal/relay"
)

type negotiatorFunc func(ctx context.Context, agentID string) (string, error)

func (f negotiatorFunc) GetSignedURL(ctx context.Context, agentID string) (string, error) {
	return f(ctx, agentID)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// providerFrames runs a minimal provider: metadata, then one audio frame once
// the client config has arrived. Everything the client sends is published.
func providerFrames(t *testing.T) (string, <-chan map[string]interface{}) {
	t.Helper()
	received := make(chan map[string]interface{}, 32)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteMessage(websocket.TextMessage, []byte(
			`{"type":"conversation_initiation_metadata","conversation_initiation_metadata_event":{"conversation_id":"conv-42"}}`))
		sentAudio := false
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m map[string]interface{}
			if json.Unmarshal(raw, &m) == nil {
				received <- m
			}
			if !sentAudio && m["type"] == "conversation_initiation_client_data" {
				sentAudio = true
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"audio","audio_event":{"audio_base_64":"AAEC"}}`))
			}
		}
	}))
	t.Cleanup(srv.Close)
	return wsURL(srv), received
}

func readCarrierFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestOutboundMediaStreamRelaysBothWays(t *testing.T) {
	providerURL, providerRx := providerFrames(t)

	e := newTestEnv()
	key := e.seed(records.StageAnswered, nil)
	e.svc.Sessions = relay.Deps{
		Store: e.store,
		Negotiator: negotiatorFunc(func(ctx context.Context, agentID string) (string, error) {
			assert.Equal(t, testAgent, agentID)
			return providerURL, nil
		}),
		NewVoiceLink: func() relay.VoiceAI { return relay.NewVoiceLink(zap.NewNop(), time.Minute) },
		Logger:       zap.NewNop(),
	}
	r, _ := e.router()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	carrier, _, err := websocket.DefaultDialer.Dial(wsURL(srv)+"/outbound-media-stream", nil)
	require.NoError(t, err)
	defer carrier.Close()

	start := `{"event":"start","streamSid":"MZ1","start":{"streamSid":"MZ1","callSid":"CA1","customParameters":{` +
		`"calling_to":"+15550001111","agent_id":"agent_1","prompt":"Remind","first_message":"Hi","call_date":"2024-05-01"}}}`
	require.NoError(t, carrier.WriteMessage(websocket.TextMessage, []byte(start)))

	// provider audio reaches the carrier
	out := readCarrierFrame(t, carrier)
	assert.Equal(t, "media", out["event"])
	assert.Equal(t, "MZ1", out["streamSid"])
	assert.Equal(t, "AAEC", out["media"].(map[string]interface{})["payload"])

	// the provider got the session config before any caller audio
	select {
	case m := <-providerRx:
		assert.Equal(t, "conversation_initiation_client_data", m["type"])
	case <-time.After(3 * time.Second):
		t.Fatal("provider never received the client config")
	}

	media := `{"event":"media","streamSid":"MZ1","media":{"track":"inbound","payload":"BAUG"}}`
	require.NoError(t, carrier.WriteMessage(websocket.TextMessage, []byte(media)))
	select {
	case m := <-providerRx:
		assert.Equal(t, "BAUG", m["user_audio_chunk"])
	case <-time.After(3 * time.Second):
		t.Fatal("caller audio was not relayed")
	}

	require.NoError(t, carrier.WriteMessage(websocket.TextMessage, []byte(`{"event":"stop","streamSid":"MZ1"}`)))

	require.Eventually(t, func() bool {
		rec, _ := e.store.Get(key)
		return rec.StreamEndedAt != nil
	}, 3*time.Second, 20*time.Millisecond)

	rec, _ := e.store.Get(key)
	assert.Equal(t, "conv-42", rec.ConversationID)
	assert.Equal(t, "MZ1", rec.StreamSID)
	assert.Equal(t, records.StageAnswered, rec.Stage)

	found, err := e.store.FindByConversationID(context.Background(), "conv-42")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, testTo, found.SK)
}

func TestMediaUpgraderOrigins(t *testing.T) {
	e := newTestEnv()
	e.cfg.AppEnv = "production"
	_, h := e.router()

	req := httptest.NewRequest(http.MethodGet, "/outbound-media-stream", nil)
	assert.True(t, h.upgrader.CheckOrigin(req))

	req.Header.Set("Origin", "https://relay.example.com")
	assert.True(t, h.upgrader.CheckOrigin(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, h.upgrader.CheckOrigin(req))
}
