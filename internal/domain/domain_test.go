package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestID_UnmarshalStringOrNumber(t *testing.T) {
	var v struct {
		A ID `json:"a"`
		B ID `json:"b"`
		C ID `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"abc","b":1234567890123,"c":null}`), &v))
	assert.Equal(t, ID("abc"), v.A)
	assert.Equal(t, ID("1234567890123"), v.B)
	assert.True(t, v.C.Empty())

	var bad ID
	assert.Error(t, json.Unmarshal([]byte(`{}`), &bad))
}

func TestNewIdentity(t *testing.T) {
	_, err := NewIdentity(User{Username: "a"}, "tok")
	assert.ErrorIs(t, err, ErrIdentityEmpty)

	_, err = NewIdentity(User{ID: "1"}, "")
	assert.ErrorIs(t, err, ErrTokenEmpty)

	_, err = NewIdentity(User{ID: "1", Username: strings.Repeat("x", MaxUsernameLen+1)}, "tok")
	assert.ErrorIs(t, err, ErrUsernameTooLong)

	id, err := NewIdentity(User{ID: "1", Username: "alice"}, "tok")
	require.NoError(t, err)
	assert.Equal(t, "tok", id.Token)
}
