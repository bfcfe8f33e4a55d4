package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dkeye/voicesync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/api/", func() string { return "tok" })
}

func TestClient_FetchHistory(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/servers/s1/channels/c1/messages/", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[{"id":1,"author_id":"7","content":"hi","created_at":"2024-01-01T00:00:00Z"},{"id":"2","channel_id":"c1","content":"yo","created_at":"2024-01-01T00:00:01Z"}]`))
	})

	msgs, err := c.FetchHistory(context.Background(), "s1", "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.ID("1"), msgs[0].ID)
	assert.Equal(t, domain.ID("c1"), msgs[0].ChannelID)
	assert.Equal(t, "yo", msgs[1].Content)
}

func TestClient_SendMessageCarriesNonce(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body messageBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body.Content)
		assert.NotEmpty(t, body.Nonce)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"9","channel_id":"c1","content":"hello"}`))
	})

	msg, err := c.SendMessage(context.Background(), "s1", "c1", "hello")
	require.NoError(t, err)
	assert.Equal(t, domain.ID("9"), msg.ID)
}

func TestClient_EditAndDelete(t *testing.T) {
	var seen []string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write([]byte(`{"id":"9","content":"edited"}`))
	})

	msg, err := c.EditMessage(context.Background(), "s1", "c1", "9", "edited")
	require.NoError(t, err)
	assert.Equal(t, "edited", msg.Content)
	require.NoError(t, c.DeleteMessage(context.Background(), "s1", "c1", "9"))

	assert.Equal(t, []string{
		"PATCH /api/servers/s1/channels/c1/messages/9",
		"DELETE /api/servers/s1/channels/c1/messages/9",
	}, seen)
}

func TestClient_ListMembersFillsIDs(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/servers/s1/members", r.URL.Path)
		_, _ = w.Write([]byte(`[{"role":"owner","user":{"id":5,"username":"bob"}}]`))
	})

	members, err := c.ListMembers(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, domain.ID("5"), members[0].UserID)
	assert.Equal(t, domain.ID("s1"), members[0].ServerID)
}

func TestClient_VoiceMembersAndMe(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/servers/s1/channels/v1/voice/members":
			_, _ = w.Write([]byte(`[{"id":"1","name":"alice"},{"id":2,"name":"bob"}]`))
		case "/api/users/@me":
			_, _ = w.Write([]byte(`{"id":"1","username":"alice"}`))
		default:
			http.NotFound(w, r)
		}
	})

	vm, err := c.VoiceMembers(context.Background(), "s1", "v1")
	require.NoError(t, err)
	assert.Equal(t, []VoiceMember{{ID: "1", Name: "alice"}, {ID: "2", Name: "bob"}}, vm)

	me, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice", me.Username)
}

func TestClient_StatusError(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad token"}`))
	})

	_, err := c.Me(context.Background())
	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusUnauthorized, serr.Code)
	assert.Equal(t, "bad token", serr.Msg)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
