package relay

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/troikatech/voice-relay/internal/records"
	"github.com/troikatech/voice-relay/pkg/logger"
	"github.com/troikatech/voice-relay/pkg/metrics"
	"github.com/troikatech/voice-relay/pkg/utils"
)

// storeTimeout bounds record writes made outside a request context.
const storeTimeout = 5 * time.Second

// Carrier is the telephony side of a session.
type Carrier interface {
	CarrierSink
	Inbound() iter.Seq[CarrierEvent]
	Close() error
}

// VoiceAI is the provider side of a session.
type VoiceAI interface {
	Open(ctx context.Context, signedURL string) error
	Handshake(ctx context.Context, cfg InitialConfig) (string, error)
	Start(sink CarrierSink)
	SendAudio(payload string) error
	Active() bool
	Done() <-chan struct{}
	Close() error
}

// Negotiator issues signed provider URLs.
type Negotiator interface {
	GetSignedURL(ctx context.Context, agentID string) (string, error)
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Store        records.Store
	Negotiator   Negotiator
	NewVoiceLink func() VoiceAI
	Logger       *zap.Logger
	Now          func() time.Time
}

// Session bridges one carrier media stream to one provider conversation.
type Session struct {
	id      string
	carrier Carrier
	deps    Deps
	logp    atomic.Pointer[zap.Logger]

	mu       sync.Mutex
	voice    VoiceAI
	key      records.Key
	started  bool
	closed   bool
	cancel   context.CancelFunc
	err      error
	setupWG  sync.WaitGroup
	teardown sync.Once

	dropped atomic.Int64
}

func NewSession(carrier Carrier, deps Deps) *Session {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	id := uuid.NewString()
	s := &Session{id: id, carrier: carrier, deps: deps}
	s.logp.Store(deps.Logger.With(zap.String("session_id", id)))
	return s
}

func (s *Session) log() *zap.Logger { return s.logp.Load() }

// annotate adds fields to every later session log line.
func (s *Session) annotate(fields ...zap.Field) {
	s.logp.Store(s.log().With(fields...))
}

func (s *Session) ID() string { return s.id }

// Dropped is the number of caller frames discarded because the voice link was not active.
func (s *Session) Dropped() int64 { return s.dropped.Load() }

// Run consumes carrier events until the stream ends, then tears the session
// down. It returns the setup error, if link setup failed.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	metrics.SessionStarted()
	s.log().Info("Relay session started")

	for ev := range s.carrier.Inbound() {
		switch e := ev.(type) {
		case StartEvent:
			s.start(ctx, e)
		case MediaEvent:
			s.forward(e)
		case StopEvent:
			s.log().Info("Carrier stopped the stream", zap.String("stream_sid", e.StreamSid))
		}
	}

	s.Teardown()
	s.setupWG.Wait()

	s.mu.Lock()
	err := s.err
	s.mu.Unlock()

	outcome := "completed"
	if err != nil {
		outcome = "failed"
	}
	metrics.SessionEnded(outcome)
	s.log().Info("Relay session ended", zap.String("outcome", outcome), zap.Int64("dropped_frames", s.Dropped()))
	return err
}

func (s *Session) start(ctx context.Context, e StartEvent) {
	callDate := e.Params.CallDate
	if !utils.ValidCallDate(callDate) {
		callDate = utils.CallDate(s.deps.Now())
	}
	key := records.Key{
		AgentID:     e.Params.AgentID,
		CallDate:    callDate,
		Destination: e.Params.Destination,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.key = key
	s.mu.Unlock()
	s.annotate(zap.String("stream_sid", e.StreamSid), zap.String("agent_id", key.AgentID))

	s.log().Info("Media stream started", logger.MaskPhoneIfPresent("to", key.Destination))

	s.setupWG.Add(1)
	go func() {
		defer s.setupWG.Done()
		if err := s.setup(ctx, key, e); err != nil {
			s.fail(ctx, key, err)
		}
	}()
}

// setup negotiates, opens and handshakes the voice link. The carrier loop
// keeps running meanwhile; its media is dropped until the link is active.
func (s *Session) setup(ctx context.Context, key records.Key, e StartEvent) error {
	signedURL, err := s.deps.Negotiator.GetSignedURL(ctx, key.AgentID)
	if err != nil {
		return err
	}

	voice := s.deps.NewVoiceLink()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = voice.Close()
		return context.Canceled
	}
	s.voice = voice
	s.mu.Unlock()

	if err := voice.Open(ctx, signedURL); err != nil {
		return err
	}
	conversationID, err := voice.Handshake(ctx, InitialConfig{
		Prompt:       e.Params.Prompt,
		FirstMessage: e.Params.FirstMessage,
	})
	if err != nil {
		return err
	}
	s.annotate(zap.String("conversation_id", conversationID))

	s.record(key, records.Fields{
		records.FieldConversationID: conversationID,
		"stream_sid":                e.StreamSid,
	})

	voice.Start(s.carrier)

	s.setupWG.Add(1)
	go func() {
		defer s.setupWG.Done()
		<-voice.Done()
		s.Teardown()
	}()
	return nil
}

func (s *Session) fail(ctx context.Context, key records.Key, err error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed && ctx.Err() != nil {
		// torn down while setting up; not a link failure
		s.log().Debug("Voice link setup abandoned", zap.Error(err))
		return
	}

	s.log().Error("Voice link setup failed", zap.Error(err))
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()

	sctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if _, serr := s.deps.Store.AdvanceStage(sctx, key, records.StageFailed); serr != nil {
		s.log().Error("Failed to mark call failed", zap.Error(serr))
	}
	s.Teardown()
}

func (s *Session) forward(e MediaEvent) {
	s.mu.Lock()
	voice := s.voice
	s.mu.Unlock()

	if voice == nil || !voice.Active() {
		s.dropped.Add(1)
		metrics.FrameDropped("not_active")
		s.log().Debug("Dropping caller audio before voice link is active")
		return
	}
	if err := voice.SendAudio(e.Payload); err != nil {
		if errors.Is(err, ErrNotActive) {
			s.dropped.Add(1)
			metrics.FrameDropped("not_active")
			return
		}
		metrics.FrameDropped("send_failed")
		s.log().Warn("Failed to forward caller audio", zap.Error(err))
		return
	}
	metrics.FrameRelayed("to_agent")
}

// Teardown closes the voice link, waiting for its loops, then the carrier
// link. Concurrent and repeated calls close each link once.
func (s *Session) Teardown() {
	s.teardown.Do(func() {
		s.mu.Lock()
		s.closed = true
		voice, cancel := s.voice, s.cancel
		started, key := s.started, s.key
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if voice != nil {
			if err := voice.Close(); err != nil {
				s.log().Debug("Voice link close", zap.Error(err))
			}
		}
		if err := s.carrier.Close(); err != nil {
			s.log().Debug("Carrier link close", zap.Error(err))
		}

		if started {
			s.record(key, records.Fields{"stream_ended_at": s.deps.Now().UTC()})
		}
		s.log().Info("Relay session torn down")
	})
}

// record writes bookkeeping fields; failures are logged, never fatal to the call.
func (s *Session) record(key records.Key, fields records.Fields) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.deps.Store.UpdateFields(ctx, key, fields); err != nil {
		s.log().Warn("Failed to update call record", zap.Error(err), zap.Strings("fields", fieldNames(fields)))
	}
}

func fieldNames(f records.Fields) []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	return names
}
