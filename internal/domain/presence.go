package domain

import "time"

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusOffline PresenceStatus = "offline"
)

type PresenceEntry struct {
	UserID ID             `json:"user_id"`
	Status PresenceStatus `json:"status"`
}

type TypingEntry struct {
	UserID    ID        `json:"user_id"`
	ChannelID ID        `json:"channel_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type VoiceAction string

const (
	VoiceJoin  VoiceAction = "join"
	VoiceLeave VoiceAction = "leave"
)

// VoiceParticipant is one roster line of a voice channel.
type VoiceParticipant struct {
	UserID    ID `json:"user_id"`
	ChannelID ID `json:"channel_id"`
}
