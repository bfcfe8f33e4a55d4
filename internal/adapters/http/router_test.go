package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dkeye/voicesync/internal/app/client"
	"github.com/dkeye/voicesync/internal/app/history"
	"github.com/dkeye/voicesync/internal/app/voice"
	"github.com/dkeye/voicesync/internal/config"
	"github.com/dkeye/voicesync/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	joined  []domain.ID
	left    int
	opened  []domain.ID
	closed  []domain.ID
	sent    []string
	deleted []domain.ID
	joinErr error
}

func (f *fakeController) Status() client.Status {
	return client.Status{Signal: "open", Voice: "idle"}
}

func (f *fakeController) JoinVoice(_ context.Context, channelID domain.ID) error {
	if f.joinErr != nil {
		return f.joinErr
	}
	f.joined = append(f.joined, channelID)
	return nil
}

func (f *fakeController) LeaveVoice() { f.left++ }

func (f *fakeController) VoiceView() client.VoiceView {
	v := client.VoiceView{State: "idle"}
	if n := len(f.joined); n > 0 {
		v.State, v.ChannelID = "negotiating", f.joined[n-1]
	}
	return v
}

func (f *fakeController) OpenChannel(_ context.Context, _, channelID domain.ID) *history.Feed {
	f.opened = append(f.opened, channelID)
	return nil
}

func (f *fakeController) CloseChannel(channelID domain.ID) { f.closed = append(f.closed, channelID) }

func (f *fakeController) Messages(channelID domain.ID) ([]domain.Message, bool, error) {
	if channelID != "c1" {
		return nil, false, history.ErrNotOpen
	}
	return []domain.Message{{ID: "m1", ChannelID: "c1", Content: "hi"}}, false, nil
}

func (f *fakeController) SendMessage(_ context.Context, channelID domain.ID, content string) (domain.Message, error) {
	f.sent = append(f.sent, content)
	return domain.Message{ID: "m2", ChannelID: channelID, Content: content}, nil
}

func (f *fakeController) EditMessage(context.Context, domain.ID, domain.ID, string) error {
	return nil
}

func (f *fakeController) DeleteMessage(_ context.Context, _, messageID domain.ID) error {
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeController) StartTyping(domain.ID) (bool, error) { return true, nil }

func (f *fakeController) Server(serverID domain.ID) (client.ServerView, error) {
	if serverID != "s1" {
		return client.ServerView{}, client.ErrServerNotOpen
	}
	return client.ServerView{
		ServerID: "s1",
		Members:  []domain.Member{{ServerID: "s1", UserID: "u2"}},
		Presence: map[domain.ID]domain.PresenceStatus{"u2": domain.StatusOnline},
	}, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *fakeController) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctrl := &fakeController{}
	return SetupRouter(context.Background(), &config.Config{Mode: "test"}, ctrl), ctrl
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStatus(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(r, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var st client.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, "open", st.Signal)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestVoiceJoinLeave(t *testing.T) {
	r, ctrl := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/voice/join/v1", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []domain.ID{"v1"}, ctrl.joined)
	assert.Contains(t, w.Body.String(), `"channel_id":"v1"`)

	w = do(r, http.MethodPost, "/api/voice/leave", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, ctrl.left)
}

func TestVoiceJoinErrors(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{&voice.MediaAcquisitionError{ChannelID: "v1", Err: errors.New("no device")}, http.StatusServiceUnavailable},
		{voice.ErrSuperseded, http.StatusConflict},
		{errors.New("boom"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		r, ctrl := newTestRouter(t)
		ctrl.joinErr = tc.err
		w := do(r, http.MethodPost, "/api/voice/join/v1", "")
		assert.Equal(t, tc.code, w.Code, tc.err.Error())
		assert.Contains(t, w.Body.String(), "error")
	}
}

func TestChannelRoutes(t *testing.T) {
	r, ctrl := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/servers/s1/channels/c1/open", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []domain.ID{"c1"}, ctrl.opened)

	w = do(r, http.MethodGet, "/api/servers/s1/channels/c1/messages", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"m1"`)

	w = do(r, http.MethodGet, "/api/servers/s1/channels/zz/messages", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPost, "/api/servers/s1/channels/c1/messages", `{"content":"hello"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, []string{"hello"}, ctrl.sent)

	w = do(r, http.MethodPost, "/api/servers/s1/channels/c1/messages", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPatch, "/api/servers/s1/channels/c1/messages/m1", `{"content":"edit"}`)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(r, http.MethodDelete, "/api/servers/s1/channels/c1/messages/m1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []domain.ID{"m1"}, ctrl.deleted)

	w = do(r, http.MethodPost, "/api/servers/s1/channels/c1/typing", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"sent":true}`, w.Body.String())

	w = do(r, http.MethodDelete, "/api/servers/s1/channels/c1/open", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []domain.ID{"c1"}, ctrl.closed)
}

func TestServerRoutes(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodGet, "/api/servers/s1/members", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":"u2"`)

	w = do(r, http.MethodGet, "/api/servers/s1/presence", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"u2":"online"}`, w.Body.String())

	w = do(r, http.MethodGet, "/api/servers/s2/voice", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
