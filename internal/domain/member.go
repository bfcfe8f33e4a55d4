package domain

import "time"

// Member represents user's participation meta for a server.
// No transport or lifecycle logic here.
type Member struct {
	ServerID ID        `json:"server_id"`
	UserID   ID        `json:"user_id"`
	Role     string    `json:"role,omitempty"`
	Nickname string    `json:"nickname,omitempty"`
	User     User      `json:"user"`
	JoinedAt time.Time `json:"joined_at"`
}
