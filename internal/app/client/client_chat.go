package client

import (
	"context"
	"fmt"

	"github.com/dkeye/voicesync/internal/app/history"
	"github.com/dkeye/voicesync/internal/core"
	"github.com/dkeye/voicesync/internal/domain"
)

func (c *Client) ServerID() domain.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverID
}

// OpenServer scopes the router and stores to serverID and loads its
// member list.
func (c *Client) OpenServer(ctx context.Context, serverID domain.ID) error {
	c.mu.Lock()
	if c.serverID == serverID {
		c.mu.Unlock()
		return nil
	}
	from := c.serverID
	c.serverID = serverID
	c.mu.Unlock()

	for _, channelID := range c.History.Channels() {
		c.CloseChannel(channelID)
	}
	c.Router.SetServer(serverID)
	c.Members.SetServer(serverID)
	c.Presence.Reset()
	c.Roster.Reset()
	c.log.Info().Str("from", from.String()).Str("server_id", serverID.String()).Msg("server opened")

	return c.loadMembers(ctx, serverID)
}

func (c *Client) loadMembers(ctx context.Context, serverID domain.ID) error {
	members, err := c.API.ListMembers(ctx, serverID)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}
	c.Members.Load(serverID, members)
	return nil
}

// OpenChannel starts the history load for channelID and begins tracking
// who types in it. Switching server closes the previous server's channels.
// A failed member load does not block the channel; it is retried on the
// next reconnect.
func (c *Client) OpenChannel(ctx context.Context, serverID, channelID domain.ID) *history.Feed {
	if err := c.OpenServer(ctx, serverID); err != nil {
		c.log.Warn().Err(err).Str("server_id", serverID.String()).Msg("members not loaded")
	}
	c.Typing.Watch(channelID)
	return c.History.Open(ctx, serverID, channelID)
}

func (c *Client) CloseChannel(channelID domain.ID) {
	c.History.Close(channelID)
	c.Typing.Unwatch(channelID)
	c.typingLimit.Reset(channelID)
}

func (c *Client) SendMessage(ctx context.Context, channelID domain.ID, content string) (domain.Message, error) {
	msg, err := c.History.Send(ctx, channelID, content)
	if err != nil {
		return domain.Message{}, err
	}
	c.typingLimit.Reset(channelID)
	return msg, nil
}

func (c *Client) EditMessage(ctx context.Context, channelID, messageID domain.ID, content string) error {
	return c.History.Edit(ctx, channelID, messageID, content)
}

func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID domain.ID) error {
	return c.History.Delete(ctx, channelID, messageID)
}

// StartTyping announces local typing, at most once per typing interval per
// channel. It reports whether an event was sent.
func (c *Client) StartTyping(channelID domain.ID) (bool, error) {
	if !c.typingLimit.Allow(channelID) {
		return false, nil
	}
	ev := core.NewEvent(&core.TypingStart{UserID: c.localUser(), ChannelID: channelID}, channelID, c.ServerID())
	if err := c.Signal.Send(ev); err != nil {
		return false, err
	}
	return true, nil
}

// Messages returns the merged feed of an open channel and whether its first
// history load is still running.
func (c *Client) Messages(channelID domain.ID) ([]domain.Message, bool, error) {
	feed, ok := c.History.Feed(channelID)
	if !ok {
		return nil, false, history.ErrNotOpen
	}
	msgs, loading := feed.Snapshot()
	return msgs, loading, feed.Err()
}

// ServerView is what the client currently knows about the open server.
type ServerView struct {
	ServerID domain.ID                               `json:"server_id"`
	Members  []domain.Member                         `json:"members"`
	Presence map[domain.ID]domain.PresenceStatus     `json:"presence"`
	Voice    map[domain.ID][]domain.VoiceParticipant `json:"voice"`
}

func (c *Client) Server(serverID domain.ID) (ServerView, error) {
	if current := c.ServerID(); current.Empty() || current != serverID {
		return ServerView{}, ErrServerNotOpen
	}
	return ServerView{
		ServerID: serverID,
		Members:  c.Members.Snapshot(),
		Presence: c.Presence.Snapshot(),
		Voice:    c.Roster.Snapshot(),
	}, nil
}
