package core

import (
	"errors"

	"github.com/dkeye/voicesync/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Payload is the closed set of envelope data variants. Only types in this
// package implement it.
type Payload interface {
	EventType() EventType
	payload()
}

type validator interface {
	validate() error
}

var payloads = map[EventType]func() Payload{
	EventIdentify:           func() Payload { return &Identify{} },
	EventMessageCreate:      func() Payload { return &MessageCreate{} },
	EventMessageUpdate:      func() Payload { return &MessageUpdate{} },
	EventMessageDelete:      func() Payload { return &MessageDelete{} },
	EventTypingStart:        func() Payload { return &TypingStart{} },
	EventPresenceUpdate:     func() Payload { return &PresenceUpdate{} },
	EventServerMemberAdd:    func() Payload { return &MemberAdd{} },
	EventServerMemberRemove: func() Payload { return &MemberRemove{} },
	EventVoiceStateUpdate:   func() Payload { return &VoiceStateUpdate{} },
	EventVoiceJoin:          func() Payload { return &VoiceJoin{} },
	EventVoiceLeave:         func() Payload { return &VoiceLeave{} },
	EventOffer:              func() Payload { return &Offer{} },
	EventAnswer:             func() Payload { return &Answer{} },
	EventICECandidate:       func() Payload { return &ICECandidate{} },
}

// Known reports whether tag has a registered payload variant.
func Known(tag EventType) bool {
	_, ok := payloads[tag]
	return ok
}

var (
	errNoID        = errors.New("missing id")
	errNoUser      = errors.New("missing user_id")
	errNoChannel   = errors.New("missing channel_id")
	errNoSDP       = errors.New("missing sdp")
	errBadSDPType  = errors.New("unexpected sdp type")
	errNoMLine     = errors.New("candidate without sdpMid or sdpMLineIndex")
	errBadAction   = errors.New("unknown voice action")
	errBadPresence = errors.New("missing status")
)

// Identify is the first frame of every connection.
type Identify struct {
	Token    string    `json:"token"`
	UserID   domain.ID `json:"user_id"`
	ClientID string    `json:"client_id,omitempty"`
}

type MessageCreate struct {
	domain.Message
}

type MessageUpdate struct {
	domain.Message
}

type MessageDelete struct {
	ID        domain.ID `json:"id"`
	ChannelID domain.ID `json:"channel_id,omitempty"`
}

type TypingStart struct {
	UserID    domain.ID `json:"user_id"`
	ChannelID domain.ID `json:"channel_id,omitempty"`
}

type PresenceUpdate struct {
	domain.PresenceEntry
}

type MemberAdd struct {
	domain.Member
}

type MemberRemove struct {
	UserID domain.ID `json:"user_id"`
}

type VoiceStateUpdate struct {
	ChannelID domain.ID          `json:"channel_id"`
	UserID    domain.ID          `json:"user_id"`
	Action    domain.VoiceAction `json:"action"`
}

// VoiceJoin asks the server to attach the local user to a voice channel.
type VoiceJoin struct {
	ChannelID domain.ID `json:"channel_id"`
	UserID    domain.ID `json:"user_id"`
}

type VoiceLeave struct {
	ChannelID domain.ID `json:"channel_id"`
	UserID    domain.ID `json:"user_id"`
}

type Offer struct {
	webrtc.SessionDescription
}

type Answer struct {
	webrtc.SessionDescription
}

type ICECandidate struct {
	webrtc.ICECandidateInit
}

func (*Identify) EventType() EventType         { return EventIdentify }
func (*MessageCreate) EventType() EventType    { return EventMessageCreate }
func (*MessageUpdate) EventType() EventType    { return EventMessageUpdate }
func (*MessageDelete) EventType() EventType    { return EventMessageDelete }
func (*TypingStart) EventType() EventType      { return EventTypingStart }
func (*PresenceUpdate) EventType() EventType   { return EventPresenceUpdate }
func (*MemberAdd) EventType() EventType        { return EventServerMemberAdd }
func (*MemberRemove) EventType() EventType     { return EventServerMemberRemove }
func (*VoiceStateUpdate) EventType() EventType { return EventVoiceStateUpdate }
func (*VoiceJoin) EventType() EventType        { return EventVoiceJoin }
func (*VoiceLeave) EventType() EventType       { return EventVoiceLeave }
func (*Offer) EventType() EventType            { return EventOffer }
func (*Answer) EventType() EventType           { return EventAnswer }
func (*ICECandidate) EventType() EventType     { return EventICECandidate }

func (*Identify) payload()         {}
func (*MessageCreate) payload()    {}
func (*MessageUpdate) payload()    {}
func (*MessageDelete) payload()    {}
func (*TypingStart) payload()      {}
func (*PresenceUpdate) payload()   {}
func (*MemberAdd) payload()        {}
func (*MemberRemove) payload()     {}
func (*VoiceStateUpdate) payload() {}
func (*VoiceJoin) payload()        {}
func (*VoiceLeave) payload()       {}
func (*Offer) payload()            {}
func (*Answer) payload()           {}
func (*ICECandidate) payload()     {}

func (p *MessageCreate) validate() error {
	if p.ID.Empty() {
		return errNoID
	}
	return nil
}

func (p *MessageUpdate) validate() error {
	if p.ID.Empty() {
		return errNoID
	}
	return nil
}

func (p *MessageDelete) validate() error {
	if p.ID.Empty() {
		return errNoID
	}
	return nil
}

func (p *TypingStart) validate() error {
	if p.UserID.Empty() {
		return errNoUser
	}
	return nil
}

func (p *PresenceUpdate) validate() error {
	if p.UserID.Empty() {
		return errNoUser
	}
	if p.Status == "" {
		return errBadPresence
	}
	return nil
}

func (p *MemberAdd) validate() error {
	if p.UserID.Empty() {
		p.UserID = p.User.ID
	}
	if p.UserID.Empty() {
		return errNoUser
	}
	return nil
}

func (p *MemberRemove) validate() error {
	if p.UserID.Empty() {
		return errNoUser
	}
	return nil
}

func (p *VoiceStateUpdate) validate() error {
	if p.UserID.Empty() {
		return errNoUser
	}
	if p.ChannelID.Empty() {
		return errNoChannel
	}
	switch p.Action {
	case domain.VoiceJoin, domain.VoiceLeave:
		return nil
	default:
		return errBadAction
	}
}

func (p *Offer) validate() error {
	return validateSDP(&p.SessionDescription, webrtc.SDPTypeOffer)
}

func (p *Answer) validate() error {
	return validateSDP(&p.SessionDescription, webrtc.SDPTypeAnswer)
}

// validateSDP fills an omitted type and rejects a mismatched one.
func validateSDP(d *webrtc.SessionDescription, want webrtc.SDPType) error {
	if d.SDP == "" {
		return errNoSDP
	}
	if d.Type == webrtc.SDPTypeUnknown {
		d.Type = want
	}
	if d.Type != want {
		return errBadSDPType
	}
	return nil
}

func (p *ICECandidate) validate() error {
	if p.Candidate != "" && p.SDPMid == nil && p.SDPMLineIndex == nil {
		return errNoMLine
	}
	return nil
}
