// Package client wires one signal channel to every consumer: the router and
// its stores, the history reconciler and the voice coordinator.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/voicesync/internal/adapters/identity"
	"github.com/dkeye/voicesync/internal/adapters/media"
	"github.com/dkeye/voicesync/internal/adapters/rest"
	"github.com/dkeye/voicesync/internal/adapters/rtc"
	"github.com/dkeye/voicesync/internal/adapters/signal"
	"github.com/dkeye/voicesync/internal/app/history"
	"github.com/dkeye/voicesync/internal/app/router"
	"github.com/dkeye/voicesync/internal/app/voice"
	"github.com/dkeye/voicesync/internal/config"
	"github.com/dkeye/voicesync/internal/core"
	"github.com/dkeye/voicesync/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoIdentity    = errors.New("no token configured and no cached identity")
	ErrServerNotOpen = errors.New("server not open")
)

type Client struct {
	Signal   *signal.Channel
	Router   *router.Router
	History  *history.Reconciler
	Voice    *voice.Coordinator
	Typing   *router.TypingRoster
	Presence *router.PresenceStore
	Members  *router.MemberStore
	Roster   *router.VoiceRoster
	Sinks    *media.SinkManager
	API      *rest.Client
	Identity *identity.Cache

	cfg         *config.Config
	log         zerolog.Logger
	typingLimit *signal.RateLimiter

	mu       sync.Mutex
	me       domain.Identity
	serverID domain.ID
	opened   bool
	ctx      context.Context
	cancel   context.CancelFunc
	detach   func()
	unstatus func()
}

// New builds the client graph from cfg. Nothing connects until Start.
func New(cfg *config.Config) (*Client, error) {
	opener, err := media.OpenerFor(cfg.Voice.Capture)
	if err != nil {
		return nil, err
	}
	logger := log.Logger

	c := &Client{
		cfg:         cfg,
		log:         logger.With().Str("module", "client").Logger(),
		Identity:    identity.NewCache(cfg.IdentityPath),
		Router:      router.New(logger),
		Presence:    router.NewPresenceStore(),
		Members:     router.NewMemberStore(),
		Roster:      router.NewVoiceRoster(logger),
		Sinks:       media.NewSinkManager(nil),
		typingLimit: signal.NewRateLimiter(1, cfg.TypingInterval),
	}
	c.API = rest.New(cfg.APIURL, c.token, rest.WithLogger(logger))
	c.Signal = signal.New(signal.Options{
		URL:            cfg.WSURL,
		ReconnectDelay: cfg.ReconnectDelay,
		PingPeriod:     cfg.PingPeriod,
		PongWait:       cfg.PongWait,
		ReadLimit:      cfg.ReadLimit,
		Logger:         logger,
	})
	c.Typing = router.NewTypingRoster(cfg.TypingTTL, c.localUser)
	c.History = history.NewReconciler(c.API, logger)
	c.Voice = voice.NewCoordinator(voice.Options{
		Sender:             c.Signal,
		Source:             media.NewSource(opener),
		NewConnection:      rtc.Factory(rtc.DefaultWebRTCConfig(cfg.Voice.ICEServers)),
		LocalUser:          c.localUser,
		Role:               voice.Role(cfg.Voice.Role),
		NegotiationTimeout: cfg.Voice.NegotiationTimeout,
		Logger:             logger,
	})

	c.routes()
	return c, nil
}

func (c *Client) routes() {
	c.Router.Route(router.NewMessageHandler(c.History, c.Typing, c.log),
		core.EventMessageCreate, core.EventMessageUpdate, core.EventMessageDelete)
	c.Router.Register(core.EventTypingStart, c.Typing)
	c.Router.Register(core.EventPresenceUpdate, c.Presence)
	c.Router.Route(c.Members, core.EventServerMemberAdd, core.EventServerMemberRemove)
	c.Router.Register(core.EventVoiceStateUpdate, c.Roster)
	c.Router.Route(router.HandlerFunc(c.Voice.Handle),
		core.EventOffer, core.EventAnswer, core.EventICECandidate)
	c.Router.OnMalformed(c.Voice)

	c.Voice.OnRemoteStream(func(rs voice.RemoteStream) {
		c.Sinks.Start(c.context(), rs.Track)
	})
	c.Voice.OnState(func(st voice.State) {
		if st.Terminal() {
			c.Sinks.StopAll()
		}
	})
}

// Start resolves the identity, caches it and opens the signal channel.
func (c *Client) Start(ctx context.Context) error {
	me, err := c.resolveIdentity(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.me = me
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.detach = c.Router.Attach(c.Signal)
	c.unstatus = c.Signal.OnStatus(c.onStatus)
	if err := c.Signal.Connect(c.context(), me); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	c.log.Info().Str("user_id", me.User.ID.String()).Str("username", me.User.Username).Msg("started")
	return nil
}

func (c *Client) resolveIdentity(ctx context.Context) (domain.Identity, error) {
	if c.cfg.Token != "" {
		c.mu.Lock()
		c.me.Token = c.cfg.Token
		c.mu.Unlock()
		user, err := c.API.Me(ctx)
		if err != nil {
			return domain.Identity{}, fmt.Errorf("resolve token: %w", err)
		}
		me, err := domain.NewIdentity(user, c.cfg.Token)
		if err != nil {
			return domain.Identity{}, err
		}
		if err := c.Identity.Save(me); err != nil {
			c.log.Warn().Err(err).Msg("identity not cached")
		}
		return me, nil
	}
	me, err := c.Identity.Load()
	if errors.Is(err, identity.ErrNotCached) {
		return domain.Identity{}, ErrNoIdentity
	}
	return me, err
}

// onStatus resyncs state that missed events while the channel was down.
// Events are never replayed by the server.
func (c *Client) onStatus(st signal.Status) {
	if st != signal.StatusOpen {
		return
	}
	c.mu.Lock()
	reconnect := c.opened
	c.opened = true
	c.mu.Unlock()
	if !reconnect {
		return
	}
	c.log.Info().Msg("reconnected, resyncing")
	go c.resync(c.context())
}

func (c *Client) resync(ctx context.Context) {
	if err := c.History.Resync(ctx); err != nil {
		c.log.Warn().Err(err).Msg("history resync")
	}
	serverID := c.ServerID()
	if serverID.Empty() {
		return
	}
	if err := c.loadMembers(ctx, serverID); err != nil {
		c.log.Warn().Err(err).Msg("members resync")
	}
	if err := c.Roster.Resync(ctx, serverID, c.voiceMembers, c.Voice.ChannelID()); err != nil {
		c.log.Warn().Err(err).Msg("voice roster resync")
	}
}

func (c *Client) voiceMembers(ctx context.Context, serverID, channelID domain.ID) ([]domain.ID, error) {
	members, err := c.API.VoiceMembers(ctx, serverID, channelID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ID, len(members))
	for i, m := range members {
		out[i] = m.ID
	}
	return out, nil
}

// Close leaves voice and tears the connection down.
func (c *Client) Close() {
	c.Voice.Leave()
	c.Sinks.StopAll()
	if c.detach != nil {
		c.detach()
	}
	if c.unstatus != nil {
		c.unstatus()
	}
	c.Signal.Close()
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	c.log.Info().Msg("closed")
}

func (c *Client) Me() domain.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.me.User
}

func (c *Client) localUser() domain.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.me.User.ID
}

func (c *Client) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.me.Token
}

func (c *Client) context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// Status is a point-in-time view for diagnostics.
type Status struct {
	Signal       string    `json:"signal"`
	Pending      int       `json:"pending"`
	UserID       domain.ID `json:"user_id"`
	ServerID     domain.ID `json:"server_id,omitempty"`
	Voice        string    `json:"voice"`
	VoiceChannel domain.ID `json:"voice_channel,omitempty"`
	PeerState    string    `json:"peer_state,omitempty"`
	VoiceError   string    `json:"voice_error,omitempty"`
}

func (c *Client) Status() Status {
	st := Status{
		Signal:       c.Signal.Status().String(),
		Pending:      c.Signal.Pending(),
		UserID:       c.localUser(),
		ServerID:     c.ServerID(),
		Voice:        c.Voice.State().String(),
		VoiceChannel: c.Voice.ChannelID(),
		PeerState:    c.Voice.ConnectionStatus(),
	}
	if err := c.Voice.Err(); err != nil {
		st.VoiceError = err.Error()
	}
	return st
}
