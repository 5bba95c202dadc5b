package relay

import (
	"encoding/json"
	"fmt"
)

// CarrierEvent is one parsed inbound event from the carrier media stream.
// Concrete types: StartEvent, MediaEvent, StopEvent, UnrecognizedEvent.
type CarrierEvent interface {
	carrierEvent()
}

// CustomParameters are the values embedded in the stream TwiML and echoed back on start.
type CustomParameters struct {
	Destination   string
	PhoneNumber   string
	AgentID       string
	Prompt        string
	FirstMessage  string
	ScheduledTime string
	CallDate      string
}

type StartEvent struct {
	StreamSid string
	CallSid   string
	Params    CustomParameters
}

type MediaEvent struct {
	StreamSid string
	Payload   string
}

type StopEvent struct {
	StreamSid string
}

// UnrecognizedEvent covers carrier events we do not act on (connected, mark, dtmf).
type UnrecognizedEvent struct {
	Name string
}

func (StartEvent) carrierEvent()        {}
func (MediaEvent) carrierEvent()        {}
func (StopEvent) carrierEvent()         {}
func (UnrecognizedEvent) carrierEvent() {}

type carrierEnvelope struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Start     *struct {
		StreamSid        string            `json:"streamSid"`
		CallSid          string            `json:"callSid"`
		CustomParameters map[string]string `json:"customParameters"`
	} `json:"start"`
	Media *struct {
		Track   string `json:"track"`
		Payload string `json:"payload"`
	} `json:"media"`
}

// ParseCarrierEvent decodes one carrier frame. Frames that cannot be decoded or
// lack a required field yield ErrMalformedMessage.
func ParseCarrierEvent(raw []byte) (CarrierEvent, error) {
	var env carrierEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch env.Event {
	case "start":
		if env.Start == nil {
			return nil, fmt.Errorf("%w: start without start block", ErrMalformedMessage)
		}
		sid := env.Start.StreamSid
		if sid == "" {
			sid = env.StreamSid
		}
		if sid == "" {
			return nil, fmt.Errorf("%w: start without streamSid", ErrMalformedMessage)
		}
		p := env.Start.CustomParameters
		return StartEvent{
			StreamSid: sid,
			CallSid:   env.Start.CallSid,
			Params: CustomParameters{
				Destination:   p["calling_to"],
				PhoneNumber:   p["phone_number"],
				AgentID:       p["agent_id"],
				Prompt:        p["prompt"],
				FirstMessage:  p["first_message"],
				ScheduledTime: p["time"],
				CallDate:      p["call_date"],
			},
		}, nil
	case "media":
		if env.Media == nil || env.Media.Payload == "" {
			return nil, fmt.Errorf("%w: media without payload", ErrMalformedMessage)
		}
		return MediaEvent{StreamSid: env.StreamSid, Payload: env.Media.Payload}, nil
	case "stop":
		return StopEvent{StreamSid: env.StreamSid}, nil
	case "":
		return nil, fmt.Errorf("%w: missing event", ErrMalformedMessage)
	default:
		return UnrecognizedEvent{Name: env.Event}, nil
	}
}

type carrierMedia struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

type carrierClear struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}

// AgentMessage is one parsed inbound message from the voice-AI provider.
// Concrete types: MetadataMessage, AudioMessage, InterruptionMessage,
// PingMessage, ErrorMessage, ConversationStartedMessage, UnrecognizedMessage.
type AgentMessage interface {
	agentMessage()
}

type MetadataMessage struct {
	ConversationID string
	// Formats as announced by the provider, e.g. "ulaw_8000".
	AgentOutputFormat string
	UserInputFormat   string
}

type AudioMessage struct {
	Payload string
}

type InterruptionMessage struct{}

// PingMessage carries the provider's event id verbatim so the pong echoes it unchanged.
type PingMessage struct {
	EventID json.RawMessage
}

type ErrorMessage struct {
	Raw json.RawMessage
}

type ConversationStartedMessage struct{}

type UnrecognizedMessage struct {
	Type string
}

func (MetadataMessage) agentMessage()            {}
func (AudioMessage) agentMessage()               {}
func (InterruptionMessage) agentMessage()        {}
func (PingMessage) agentMessage()                {}
func (ErrorMessage) agentMessage()               {}
func (ConversationStartedMessage) agentMessage() {}
func (UnrecognizedMessage) agentMessage()        {}

type agentEnvelope struct {
	Type     string `json:"type"`
	Metadata *struct {
		ConversationID    string `json:"conversation_id"`
		AgentOutputFormat string `json:"agent_output_audio_format"`
		UserInputFormat   string `json:"user_input_audio_format"`
	} `json:"conversation_initiation_metadata_event"`
	Audio *struct {
		Payload string `json:"audio_base_64"`
	} `json:"audio_event"`
	Ping *struct {
		EventID json.RawMessage `json:"event_id"`
	} `json:"ping_event"`
}

// ParseAgentMessage decodes one provider frame.
func ParseAgentMessage(raw []byte) (AgentMessage, error) {
	var env agentEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch env.Type {
	case "conversation_initiation_metadata":
		if env.Metadata == nil || env.Metadata.ConversationID == "" {
			return nil, fmt.Errorf("%w: metadata without conversation_id", ErrMalformedMessage)
		}
		return MetadataMessage{
			ConversationID:    env.Metadata.ConversationID,
			AgentOutputFormat: env.Metadata.AgentOutputFormat,
			UserInputFormat:   env.Metadata.UserInputFormat,
		}, nil
	case "audio":
		if env.Audio == nil || env.Audio.Payload == "" {
			return nil, fmt.Errorf("%w: audio without payload", ErrMalformedMessage)
		}
		return AudioMessage{Payload: env.Audio.Payload}, nil
	case "interruption":
		return InterruptionMessage{}, nil
	case "ping":
		if env.Ping == nil || isEmptyID(env.Ping.EventID) {
			return nil, fmt.Errorf("%w: ping without event_id", ErrMalformedMessage)
		}
		return PingMessage{EventID: env.Ping.EventID}, nil
	case "error":
		return ErrorMessage{Raw: json.RawMessage(raw)}, nil
	case "conversation_started":
		return ConversationStartedMessage{}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	default:
		return UnrecognizedMessage{Type: env.Type}, nil
	}
}

func isEmptyID(id json.RawMessage) bool {
	switch string(id) {
	case "", "null", `""`, "0":
		return true
	}
	return false
}

// InitialConfig overrides the agent's prompt and greeting for one conversation.
type InitialConfig struct {
	Prompt       string
	FirstMessage string
}

type initiationClientData struct {
	Type     string `json:"type"`
	Override struct {
		Agent struct {
			Prompt struct {
				Prompt string `json:"prompt"`
			} `json:"prompt"`
			FirstMessage string `json:"first_message"`
		} `json:"agent"`
	} `json:"conversation_config_override"`
}

func (c InitialConfig) message() initiationClientData {
	var m initiationClientData
	m.Type = "conversation_initiation_client_data"
	m.Override.Agent.Prompt.Prompt = c.Prompt
	m.Override.Agent.FirstMessage = c.FirstMessage
	return m
}

type userAudioChunk struct {
	Chunk string `json:"user_audio_chunk"`
}

type pongMessage struct {
	Type    string          `json:"type"`
	EventID json.RawMessage `json:"event_id"`
}

type keepaliveMessage struct {
	Type string `json:"type"`
}
