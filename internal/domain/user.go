// Package domain contains entities without logic, just meta-data
package domain

import (
	"errors"
)

const (
	MaxUsernameLen = 36
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrIdentityEmpty   = errors.New("identity has no user id")
	ErrTokenEmpty      = errors.New("identity has no token")
)

type User struct {
	ID          ID     `json:"id" yaml:"id"`
	Username    string `json:"username" yaml:"username"`
	DisplayName string `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty" yaml:"avatar_url,omitempty"`
	Status      string `json:"status,omitempty" yaml:"-"`
}

// Identity is the local user plus the credential the transport presents on
// every (re)connect. It is the only state cached across restarts.
type Identity struct {
	User  User   `yaml:"user"`
	Token string `yaml:"token"`
}

// NewIdentity avoids ad-hoc struct literals in adapters.
func NewIdentity(user User, token string) (Identity, error) {
	id := Identity{User: user, Token: token}
	if err := id.Validate(); err != nil {
		return Identity{}, err
	}
	return id, nil
}

func (i Identity) Validate() error {
	if i.User.ID.Empty() {
		return ErrIdentityEmpty
	}
	if i.Token == "" {
		return ErrTokenEmpty
	}
	if len(i.User.Username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}
