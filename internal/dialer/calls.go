package dialer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/troikatech/voice-relay/internal/records"
	"github.com/troikatech/voice-relay/pkg/logger"
	"github.com/troikatech/voice-relay/pkg/twilio"
	"github.com/troikatech/voice-relay/pkg/utils"
)

const (
	TwiMLPath          = "/outbound-call-twiml"
	StatusCallbackPath = "/callbacks/call-status"
)

var ErrInvalidDestination = errors.New("destination is not a valid E.164 number")

// CallInput is a create-call request.
type CallInput struct {
	CallingTo    string `json:"calling_to" binding:"required"`
	PhoneNumber  string `json:"phone_number"`
	AgentID      string `json:"agent_id" binding:"required"`
	Prompt       string `json:"prompt"`
	FirstMessage string `json:"first_message"`
	Time         string `json:"time"`
	EventType    string `json:"event_type"`
	EventName    string `json:"event_name"`
}

// FullPrompt appends the reminder subject for medicine and vital calls.
func (in CallInput) FullPrompt() string {
	switch in.EventType {
	case "Medicine":
		return fmt.Sprintf("%s. Calling For: %s, Medicine name: %s", in.Prompt, in.EventType, in.EventName)
	case "Vital":
		return fmt.Sprintf("%s. Calling For: %s, Vital name: %s", in.Prompt, in.EventType, in.EventName)
	default:
		return in.Prompt
	}
}

// Enqueuer accepts placement jobs.
type Enqueuer interface {
	Enqueue(job Job) error
}

// Service creates call records and hands their placement to the pool.
type Service struct {
	store      records.Store
	queue      Enqueuer
	publicHost string
	logger     *zap.Logger
	now        func() time.Time
}

func NewService(store records.Store, queue Enqueuer, publicHost string, log *zap.Logger) *Service {
	return &Service{store: store, queue: queue, publicHost: publicHost, logger: log, now: time.Now}
}

// CreateCall records the call as initiated and schedules its placement.
// A record that already exists for today yields records.ErrDuplicateKey.
func (s *Service) CreateCall(ctx context.Context, in CallInput) (*records.Record, error) {
	destination := utils.NormalizeE164(in.CallingTo)
	if !utils.ValidateE164(destination) {
		return nil, ErrInvalidDestination
	}
	prompt := in.FullPrompt()

	rec, err := s.store.CreateRecord(ctx, records.NewRecord{
		Destination:   destination,
		AgentID:       in.AgentID,
		Prompt:        prompt,
		ScheduledTime: in.Time,
		Stage:         records.StageInitiated,
	})
	if err != nil {
		return nil, err
	}

	key := rec.Key()
	job := Job{Key: key, Request: s.callRequest(key, in, prompt)}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Error("Failed to queue outbound call",
			logger.MaskPhone("to", destination),
			zap.String("agent_id", in.AgentID),
			zap.Error(err),
		)
		if _, serr := s.store.AdvanceStage(ctx, key, records.StageFailed); serr != nil {
			s.logger.Error("Failed to mark call failed", zap.Error(serr))
		}
		return nil, err
	}
	return rec, nil
}

func (s *Service) callRequest(key records.Key, in CallInput, prompt string) twilio.CallRequest {
	twimlQuery := url.Values{}
	twimlQuery.Set("first_message", in.FirstMessage)
	twimlQuery.Set("time", in.Time)
	twimlQuery.Set("calling_to", key.Destination)
	twimlQuery.Set("prompt", prompt)
	twimlQuery.Set("phone_number", strings.TrimSpace(in.PhoneNumber))
	twimlQuery.Set("agent_id", key.AgentID)
	twimlQuery.Set("call_date", key.CallDate)

	statusQuery := url.Values{}
	statusQuery.Set("agent_id", key.AgentID)
	statusQuery.Set("call_date", key.CallDate)

	return twilio.CallRequest{
		To:                key.Destination,
		TwiMLURL:          twilio.CallbackURL(s.publicHost, TwiMLPath, twimlQuery),
		StatusCallbackURL: twilio.CallbackURL(s.publicHost, StatusCallbackPath, statusQuery),
	}
}
