package relay

import (
	"errors"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// carrierIdleTimeout bounds how long the media stream may stay silent.
	carrierIdleTimeout = 60 * time.Second
	carrierWriteWait   = 10 * time.Second
	carrierReadLimit   = 1 << 20
)

// TelephonyLink is the carrier side of one media stream connection.
type TelephonyLink struct {
	conn   *websocket.Conn
	logger *zap.Logger

	writeMu   sync.Mutex
	mu        sync.Mutex
	streamSid string

	consumed  atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewTelephonyLink(conn *websocket.Conn, log *zap.Logger) *TelephonyLink {
	conn.SetReadLimit(carrierReadLimit)
	return &TelephonyLink{conn: conn, logger: log}
}

func (t *TelephonyLink) StreamSid() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.streamSid
}

// Inbound yields parsed carrier events until the connection closes or a stop
// event has been yielded. Malformed frames and repeated start events are
// logged and skipped. The sequence can be ranged over once.
func (t *TelephonyLink) Inbound() iter.Seq[CarrierEvent] {
	return func(yield func(CarrierEvent) bool) {
		if t.consumed.Swap(true) {
			t.logger.Warn("Carrier inbound sequence already consumed")
			return
		}

		started := false
		for {
			_ = t.conn.SetReadDeadline(time.Now().Add(carrierIdleTimeout))
			messageType, raw, err := t.conn.ReadMessage()
			if err != nil {
				if !t.closed.Load() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					t.logger.Warn("Carrier stream read error", zap.Error(err))
				}
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}

			ev, err := ParseCarrierEvent(raw)
			if err != nil {
				t.logger.Warn("Dropping malformed carrier frame", zap.Error(err))
				continue
			}

			switch e := ev.(type) {
			case StartEvent:
				if started {
					t.logger.Warn("Ignoring repeated start event", zap.String("stream_sid", e.StreamSid))
					continue
				}
				started = true
				t.mu.Lock()
				t.streamSid = e.StreamSid
				t.mu.Unlock()
			case UnrecognizedEvent:
				t.logger.Debug("Ignoring carrier event", zap.String("event", e.Name))
				continue
			}

			if !yield(ev) {
				return
			}
			if _, stop := ev.(StopEvent); stop {
				return
			}
		}
	}
}

// SendMedia plays a base64 audio payload to the caller.
func (t *TelephonyLink) SendMedia(payload string) error {
	msg := carrierMedia{Event: "media", StreamSid: t.StreamSid()}
	msg.Media.Payload = payload
	return t.write(msg)
}

// Clear drops audio the carrier has buffered but not yet played.
func (t *TelephonyLink) Clear() error {
	return t.write(carrierClear{Event: "clear", StreamSid: t.StreamSid()})
}

func (t *TelephonyLink) write(v interface{}) error {
	if t.closed.Load() {
		return ErrLinkClosed
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(carrierWriteWait))
	return t.conn.WriteJSON(v)
}

// Close is idempotent.
func (t *TelephonyLink) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); werr != nil &&
			!errors.Is(werr, websocket.ErrCloseSent) {
			t.logger.Debug("Carrier close frame not sent", zap.Error(werr))
		}
		err = t.conn.Close()
	})
	return err
}
