// Package rest is the HTTP side of the backend API: history fetches, message
// mutations and the listings used to seed and resync local state.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dkeye/voicesync/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrUnauthorized = errors.New("unauthorized")

// StatusError is a non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Msg    string
}

func (e *StatusError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s %s: %d: %s", e.Method, e.Path, e.Code, e.Msg)
	}
	return fmt.Sprintf("%s %s: %d", e.Method, e.Path, e.Code)
}

func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

type Client struct {
	base  string
	http  *http.Client
	log   zerolog.Logger
	token func() string
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l.With().Str("module", "rest").Logger() }
}

// New builds a client for baseURL. token is read on every request so a
// refreshed identity takes effect without rebuilding the client.
func New(baseURL string, token func() string, opts ...Option) *Client {
	c := &Client{
		base:  strings.TrimRight(baseURL, "/"),
		http:  &http.Client{Timeout: 15 * time.Second},
		log:   zerolog.Nop(),
		token: token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type messageBody struct {
	Content string `json:"content"`
	Nonce   string `json:"nonce,omitempty"`
}

// VoiceMember is one line of the voice channel listing.
type VoiceMember struct {
	ID        domain.ID `json:"id"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
}

func messagesPath(serverID, channelID domain.ID) string {
	return fmt.Sprintf("/servers/%s/channels/%s/messages/", url.PathEscape(serverID.String()), url.PathEscape(channelID.String()))
}

func (c *Client) FetchHistory(ctx context.Context, serverID, channelID domain.ID) ([]domain.Message, error) {
	var msgs []domain.Message
	if err := c.do(ctx, http.MethodGet, messagesPath(serverID, channelID), nil, &msgs); err != nil {
		return nil, err
	}
	for i := range msgs {
		if msgs[i].ChannelID.Empty() {
			msgs[i].ChannelID = channelID
		}
	}
	return msgs, nil
}

// SendMessage posts content with a fresh nonce. The server echoes the
// message as MESSAGE_CREATE on the event stream as well.
func (c *Client) SendMessage(ctx context.Context, serverID, channelID domain.ID, content string) (domain.Message, error) {
	var msg domain.Message
	body := messageBody{Content: content, Nonce: uuid.NewString()}
	if err := c.do(ctx, http.MethodPost, messagesPath(serverID, channelID), body, &msg); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

func (c *Client) EditMessage(ctx context.Context, serverID, channelID, messageID domain.ID, content string) (domain.Message, error) {
	var msg domain.Message
	path := messagesPath(serverID, channelID) + url.PathEscape(messageID.String())
	if err := c.do(ctx, http.MethodPatch, path, messageBody{Content: content}, &msg); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

func (c *Client) DeleteMessage(ctx context.Context, serverID, channelID, messageID domain.ID) error {
	path := messagesPath(serverID, channelID) + url.PathEscape(messageID.String())
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) ListMembers(ctx context.Context, serverID domain.ID) ([]domain.Member, error) {
	var members []domain.Member
	path := fmt.Sprintf("/servers/%s/members", url.PathEscape(serverID.String()))
	if err := c.do(ctx, http.MethodGet, path, nil, &members); err != nil {
		return nil, err
	}
	for i := range members {
		if members[i].UserID.Empty() {
			members[i].UserID = members[i].User.ID
		}
		if members[i].ServerID.Empty() {
			members[i].ServerID = serverID
		}
	}
	return members, nil
}

func (c *Client) VoiceMembers(ctx context.Context, serverID, channelID domain.ID) ([]VoiceMember, error) {
	var members []VoiceMember
	path := fmt.Sprintf("/servers/%s/channels/%s/voice/members", url.PathEscape(serverID.String()), url.PathEscape(channelID.String()))
	if err := c.do(ctx, http.MethodGet, path, nil, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// Me resolves the user behind the current token.
func (c *Client) Me(ctx context.Context) (domain.User, error) {
	var u domain.User
	if err := c.do(ctx, http.MethodGet, "/users/@me", nil, &u); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("method", method).Str("path", path).Msg("request failed")
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{Method: method, Path: path, Code: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &payload) == nil {
			serr.Msg = payload.Error
		}
		return serr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
