package domain

import "time"

type Message struct {
	ID        ID         `json:"id"`
	ChannelID ID         `json:"channel_id"`
	AuthorID  ID         `json:"author_id"`
	Content   string     `json:"content"`
	Author    *User      `json:"author,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// ChannelSubscription exists while a channel view is open.
type ChannelSubscription struct {
	ServerID          ID
	ChannelID         ID
	LastSeenMessageID ID
}
