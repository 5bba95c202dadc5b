package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/troikatech/voice-relay/pkg/audio"
	"github.com/troikatech/voice-relay/pkg/metrics"
)

// LinkState is the Voice-AI link lifecycle.
type LinkState int32

const (
	StateDisconnected LinkState = iota
	StateConnecting
	StateAwaitingMetadata
	StateActive
	StateClosing
	StateClosed
)

func (s LinkState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingMetadata:
		return "awaiting_metadata"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	DefaultKeepaliveInterval = 30 * time.Second
	handshakeTimeout         = 10 * time.Second
	voiceWriteWait           = 10 * time.Second
)

// CarrierSink receives what the agent wants played on the call.
type CarrierSink interface {
	SendMedia(payload string) error
	Clear() error
}

// VoiceLink is the upstream connection to the voice-AI provider for one conversation.
type VoiceLink struct {
	logger    *zap.Logger
	dialer    *websocket.Dialer
	keepalive time.Duration

	state atomic.Int32

	mu             sync.Mutex
	conn           *websocket.Conn
	conversationID string
	cancel         context.CancelFunc
	group          *errgroup.Group

	writeMu   sync.Mutex
	closeOnce sync.Once
	doneOnce  sync.Once
	done      chan struct{}
}

func NewVoiceLink(log *zap.Logger, keepalive time.Duration) *VoiceLink {
	if keepalive <= 0 {
		keepalive = DefaultKeepaliveInterval
	}
	return &VoiceLink{
		logger:    log,
		dialer:    &websocket.Dialer{HandshakeTimeout: handshakeTimeout, Proxy: http.ProxyFromEnvironment},
		keepalive: keepalive,
		done:      make(chan struct{}),
	}
}

func (v *VoiceLink) State() LinkState { return LinkState(v.state.Load()) }

func (v *VoiceLink) Active() bool { return v.State() == StateActive }

func (v *VoiceLink) ConversationID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.conversationID
}

// Done is closed once the link stops reading, whether the provider hung up or Close was called.
func (v *VoiceLink) Done() <-chan struct{} { return v.done }

func (v *VoiceLink) signalDone() {
	v.doneOnce.Do(func() { close(v.done) })
}

// Open dials signedURL. Any transport failure is reported as ErrConnect.
func (v *VoiceLink) Open(ctx context.Context, signedURL string) error {
	if !v.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return fmt.Errorf("%w: open in state %s", ErrConnect, v.State())
	}

	conn, resp, err := v.dialer.DialContext(ctx, signedURL, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		v.state.CompareAndSwap(int32(StateConnecting), int32(StateDisconnected))
		return fmt.Errorf("%w: status %d: %v", ErrConnect, status, err)
	}

	v.mu.Lock()
	if v.State() != StateConnecting {
		// closed while dialing
		v.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("%w: link closed during dial", ErrConnect)
	}
	v.conn = conn
	v.state.Store(int32(StateAwaitingMetadata))
	v.mu.Unlock()
	return nil
}

// Handshake waits for the conversation metadata, then sends cfg. The link
// only becomes Active after cfg is on the wire, so no audio can precede it.
func (v *VoiceLink) Handshake(ctx context.Context, cfg InitialConfig) (string, error) {
	if v.State() != StateAwaitingMetadata {
		return "", fmt.Errorf("%w: handshake in state %s", ErrProtocol, v.State())
	}
	conn := v.conn

	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	_, raw, err := conn.ReadMessage()
	stop()
	if err != nil {
		return "", fmt.Errorf("%w: no metadata: %v", ErrProtocol, err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	msg, err := ParseAgentMessage(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	meta, ok := msg.(MetadataMessage)
	if !ok {
		return "", fmt.Errorf("%w: expected conversation metadata, got %T", ErrProtocol, msg)
	}

	v.mu.Lock()
	v.conversationID = meta.ConversationID
	v.mu.Unlock()

	if err := v.write(cfg.message()); err != nil {
		return "", fmt.Errorf("%w: sending initial config: %v", ErrConnect, err)
	}
	if !v.state.CompareAndSwap(int32(StateAwaitingMetadata), int32(StateActive)) {
		return "", fmt.Errorf("%w: link closed during handshake", ErrConnect)
	}

	v.logger.Info("Voice link active",
		zap.String("conversation_id", meta.ConversationID),
		zap.String("agent_output_format", meta.AgentOutputFormat),
	)
	return meta.ConversationID, nil
}

// Start runs the dispatch and keepalive loops until Close or until the provider hangs up.
func (v *VoiceLink) Start(sink CarrierSink) {
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	v.mu.Lock()
	if v.State() != StateActive {
		v.mu.Unlock()
		cancel()
		return
	}
	v.cancel = cancel
	v.group = group
	v.mu.Unlock()

	group.Go(func() error { return v.dispatchLoop(gctx, sink) })
	group.Go(func() error { return v.keepaliveLoop(gctx) })
}

func (v *VoiceLink) dispatchLoop(ctx context.Context, sink CarrierSink) error {
	defer v.signalDone()
	for {
		_, raw, err := v.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			v.state.CompareAndSwap(int32(StateActive), int32(StateClosing))
			v.logger.Info("Voice link closed by provider", zap.Error(err))
			return fmt.Errorf("%w: %v", ErrLinkClosed, err)
		}

		msg, err := ParseAgentMessage(raw)
		if err != nil {
			metrics.FrameDropped("malformed_agent")
			v.logger.Warn("Dropping malformed agent frame", zap.Error(err))
			continue
		}
		v.Dispatch(msg, sink)
	}
}

// Dispatch applies one provider message. None of its failures are fatal.
func (v *VoiceLink) Dispatch(msg AgentMessage, sink CarrierSink) {
	switch m := msg.(type) {
	case AudioMessage:
		if err := sink.SendMedia(m.Payload); err != nil {
			v.logger.Warn("Failed to play agent audio", zap.Error(err))
			return
		}
		metrics.FrameRelayed("to_carrier")
	case InterruptionMessage:
		if err := sink.Clear(); err != nil {
			v.logger.Warn("Failed to clear carrier audio", zap.Error(err))
		}
	case PingMessage:
		if err := v.write(pongMessage{Type: "pong", EventID: m.EventID}); err != nil {
			v.logger.Warn("Failed to answer ping", zap.Error(err))
		}
	case ErrorMessage:
		v.logger.Error("Voice provider reported an error", zap.ByteString("message", m.Raw))
	case ConversationStartedMessage:
		v.logger.Info("Conversation started")
	case MetadataMessage:
		if current := v.ConversationID(); m.ConversationID != current {
			v.logger.Warn("Ignoring conflicting conversation metadata",
				zap.String("conversation_id", current),
				zap.String("conflicting_id", m.ConversationID),
			)
		}
	case UnrecognizedMessage:
		v.logger.Debug("Ignoring agent message", zap.String("type", m.Type))
	default:
		v.logger.Debug("Unhandled agent message", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (v *VoiceLink) keepaliveLoop(ctx context.Context) error {
	ticker := time.NewTicker(v.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !v.Active() {
				return nil
			}
			if err := v.write(keepaliveMessage{Type: "ping"}); err != nil {
				v.logger.Warn("Keepalive stopped", zap.Error(err))
				return nil
			}
		}
	}
}

// SendAudio forwards one caller audio chunk. The payload is decoded and
// re-encoded, which leaves valid base64 byte-identical.
func (v *VoiceLink) SendAudio(payload string) error {
	if !v.Active() {
		return ErrNotActive
	}
	chunk, _, err := audio.Passthrough(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return v.write(userAudioChunk{Chunk: chunk})
}

func (v *VoiceLink) write(msg interface{}) error {
	switch v.State() {
	case StateClosing, StateClosed, StateDisconnected, StateConnecting:
		return ErrLinkClosed
	}
	v.writeMu.Lock()
	defer v.writeMu.Unlock()
	_ = v.conn.SetWriteDeadline(time.Now().Add(voiceWriteWait))
	return v.conn.WriteJSON(msg)
}

// Close cancels the loops, waits for them to exit and then releases the
// connection. Safe to call more than once and from any goroutine.
func (v *VoiceLink) Close() error {
	var err error
	v.closeOnce.Do(func() {
		v.mu.Lock()
		v.state.Store(int32(StateClosing))
		conn, cancel, group := v.conn, v.cancel, v.group
		v.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if conn != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if werr := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); werr != nil &&
				!errors.Is(werr, websocket.ErrCloseSent) {
				v.logger.Debug("Voice close frame not sent", zap.Error(werr))
			}
			// unblock the dispatch read
			_ = conn.SetReadDeadline(time.Now())
		}
		if group != nil {
			if gerr := group.Wait(); gerr != nil && !errors.Is(gerr, ErrLinkClosed) {
				v.logger.Debug("Voice link loops ended", zap.Error(gerr))
			}
		}
		if conn != nil {
			err = conn.Close()
		}
		v.state.Store(int32(StateClosed))
		v.signalDone()
	})
	return err
}
