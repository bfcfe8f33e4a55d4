package core

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/voicesync/internal/domain"
)

type EventType string

// One tag vocabulary is used for both chat and signaling events.
const (
	EventAny EventType = "*"

	EventIdentify           EventType = "IDENTIFY"
	EventMessageCreate      EventType = "MESSAGE_CREATE"
	EventMessageUpdate      EventType = "MESSAGE_UPDATE"
	EventMessageDelete      EventType = "MESSAGE_DELETE"
	EventTypingStart        EventType = "TYPING_START"
	EventPresenceUpdate     EventType = "PRESENCE_UPDATE"
	EventServerMemberAdd    EventType = "SERVER_MEMBER_ADD"
	EventServerMemberRemove EventType = "SERVER_MEMBER_REMOVE"
	EventVoiceStateUpdate   EventType = "VOICE_STATE_UPDATE"
	EventVoiceJoin          EventType = "VOICE_JOIN"
	EventVoiceLeave         EventType = "VOICE_LEAVE"
	EventOffer              EventType = "WEBRTC_OFFER"
	EventAnswer             EventType = "WEBRTC_ANSWER"
	EventICECandidate       EventType = "ICE_CANDIDATE"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrMalformed    = errors.New("malformed event")
)

// Event is a decoded envelope. Payload is always the variant registered for
// Type, so a type switch over the payload types in this package is exhaustive.
type Event struct {
	Type      EventType
	ChannelID domain.ID
	ServerID  domain.ID
	Payload   Payload
}

// NewEvent builds an outbound event; the tag is taken from the payload.
func NewEvent(p Payload, channelID, serverID domain.ID) Event {
	return Event{Type: p.EventType(), ChannelID: channelID, ServerID: serverID, Payload: p}
}

type envelope struct {
	Event     EventType       `json:"event"`
	ChannelID domain.ID       `json:"channel_id,omitempty"`
	ServerID  domain.ID       `json:"server_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// PeekType reads only the tag of a raw frame.
func PeekType(raw Frame) (EventType, error) {
	var env struct {
		Event EventType `json:"event"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Event == "" {
		return "", fmt.Errorf("%w: missing event tag", ErrMalformed)
	}
	return env.Event, nil
}

// Decode parses a raw frame into its typed variant. Unknown tags return
// ErrUnknownEvent; payloads that do not parse or fail validation return
// ErrMalformed.
func Decode(raw Frame) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	newPayload, ok := payloads[env.Event]
	if !ok {
		return Event{Type: env.Event}, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	p := newPayload()
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, p); err != nil {
			return Event{Type: env.Event}, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Event, err)
		}
	}
	if v, ok := p.(validator); ok {
		if err := v.validate(); err != nil {
			return Event{Type: env.Event}, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Event, err)
		}
	}
	return Event{
		Type:      env.Event,
		ChannelID: env.ChannelID,
		ServerID:  env.ServerID,
		Payload:   p,
	}, nil
}

// Encode serializes an event into the wire envelope.
func Encode(ev Event) (Frame, error) {
	if ev.Payload == nil {
		return nil, fmt.Errorf("%w: %s: nil payload", ErrMalformed, ev.Type)
	}
	tag := ev.Payload.EventType()
	if ev.Type != "" && ev.Type != tag {
		return nil, fmt.Errorf("%w: tag %s does not match payload %s", ErrMalformed, ev.Type, tag)
	}
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", tag, err)
	}
	return json.Marshal(envelope{
		Event:     tag,
		ChannelID: ev.ChannelID,
		ServerID:  ev.ServerID,
		Data:      data,
	})
}
