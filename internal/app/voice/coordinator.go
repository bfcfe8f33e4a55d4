// Package voice owns the single active voice session: local media, the peer
// connection and the offer/answer/candidate exchange over the signal channel.
package voice

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/voicesync/internal/core"
	"github.com/dkeye/voicesync/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type Options struct {
	Sender core.Sender
	Source core.MediaSource
	// NewConnection builds the peer connection for a session id.
	NewConnection func(sid string) (core.MediaConnection, error)
	LocalUser     func() domain.ID
	Role          Role
	// NegotiationTimeout aborts a session that is not connected in time.
	// Zero disables it.
	NegotiationTimeout time.Duration
	Logger             zerolog.Logger
}

// Coordinator keeps at most one live session. A new join always tears the
// previous one down first.
type Coordinator struct {
	opts Options
	log  zerolog.Logger

	mu       sync.Mutex
	cur      *session
	onStream []func(RemoteStream)
	onState  []func(State)
}

func NewCoordinator(opts Options) *Coordinator {
	if opts.Role == "" {
		opts.Role = RoleAnswerer
	}
	if opts.LocalUser == nil {
		opts.LocalUser = func() domain.ID { return "" }
	}
	return &Coordinator{
		opts: opts,
		log:  opts.Logger.With().Str("module", "voice").Logger(),
	}
}

// OnRemoteStream registers fn for every new remote stream.
func (c *Coordinator) OnRemoteStream(fn func(RemoteStream)) {
	c.mu.Lock()
	c.onStream = append(c.onStream, fn)
	c.mu.Unlock()
}

// OnState registers fn for state changes of the current session.
func (c *Coordinator) OnState(fn func(State)) {
	c.mu.Lock()
	c.onState = append(c.onState, fn)
	c.mu.Unlock()
}

func (c *Coordinator) current() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

func (c *Coordinator) isCurrent(s *session) bool {
	return c.current() == s
}

func (c *Coordinator) State() State {
	s := c.current()
	if s == nil {
		return StateIdle
	}
	return s.State()
}

// ConnectionStatus is the raw peer connection state, for diagnostics.
func (c *Coordinator) ConnectionStatus() string {
	s := c.current()
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connStatus
}

// ChannelID is the channel of the live session, empty when there is none.
func (c *Coordinator) ChannelID() domain.ID {
	s := c.current()
	if s == nil || s.State().Terminal() {
		return ""
	}
	return s.channelID
}

// Err is the error that ended the current session, if any.
func (c *Coordinator) Err() error {
	s := c.current()
	if s == nil {
		return nil
	}
	return s.Err()
}

func (c *Coordinator) RemoteStreams() []RemoteStream {
	s := c.current()
	if s == nil {
		return nil
	}
	return s.remoteStreams()
}

// JoinChannel replaces any existing session with one for channelID. It
// returns once VOICE_JOIN has been queued, or with the error that failed the
// join.
func (c *Coordinator) JoinChannel(ctx context.Context, channelID domain.ID) error {
	if channelID.Empty() {
		return ErrNoChannel
	}
	s := newSession(context.WithoutCancel(ctx), uuid.NewString(), channelID, c.log)

	c.mu.Lock()
	old := c.cur
	c.cur = s
	c.mu.Unlock()

	if old != nil && old.end(StateClosed, nil) {
		old.log.Info().Str("next_channel", channelID.String()).Msg("superseded by new join")
		c.notifyState(StateClosed)
	}

	if !c.move(s, StateJoining) {
		return ErrSuperseded
	}

	media, err := c.opts.Source.Acquire(s.ctx)
	if err != nil {
		if !c.isCurrent(s) || s.State().Terminal() {
			return ErrSuperseded
		}
		merr := &MediaAcquisitionError{ChannelID: channelID, Err: err}
		c.fail(s, merr)
		return merr
	}
	if !s.attachMedia(media) {
		media.Stop()
		return ErrSuperseded
	}

	peer, err := c.opts.NewConnection(s.id)
	if err != nil {
		err = fmt.Errorf("create peer connection: %w", err)
		c.fail(s, err)
		return err
	}
	if !s.attachPeer(peer) {
		peer.Close()
		return ErrSuperseded
	}
	c.wire(s, peer)
	if err := peer.Start(s.ctx); err != nil {
		err = fmt.Errorf("start peer connection: %w", err)
		c.fail(s, err)
		return err
	}
	for _, track := range media.Tracks() {
		if err := peer.AddLocalTrack(track); err != nil {
			err = fmt.Errorf("add local track: %w", err)
			c.fail(s, err)
			return err
		}
	}

	if !c.move(s, StateNegotiating) {
		return ErrSuperseded
	}
	c.armTimeout(s)
	s.start()

	c.send(core.NewEvent(&core.VoiceJoin{ChannelID: channelID, UserID: c.opts.LocalUser()}, channelID, ""))
	if c.opts.Role == RoleOfferer {
		s.enqueue(func() { c.createOffer(s) })
	}
	return nil
}

// Leave ends the live session, if any, and tells the server.
func (c *Coordinator) Leave() {
	s := c.current()
	if s == nil {
		return
	}
	if !s.end(StateClosed, nil) {
		return
	}
	c.notifyState(StateClosed)
	c.send(core.NewEvent(&core.VoiceLeave{ChannelID: s.channelID, UserID: c.opts.LocalUser()}, s.channelID, ""))
}

// Handle accepts WEBRTC_OFFER, WEBRTC_ANSWER and ICE_CANDIDATE. Anything
// for a missing, ended or different session is dropped.
func (c *Coordinator) Handle(ev core.Event) {
	s := c.current()
	if s == nil || s.State().Terminal() {
		c.log.Debug().Str("event", string(ev.Type)).Msg("no live session, dropping")
		return
	}
	if !ev.ChannelID.Empty() && ev.ChannelID != s.channelID {
		c.log.Debug().Str("event", string(ev.Type)).Str("channel_id", ev.ChannelID.String()).Msg("signal for another channel, dropping")
		return
	}
	switch p := ev.Payload.(type) {
	case *core.Offer:
		desc := p.SessionDescription
		s.enqueue(func() { c.applyOffer(s, desc) })
	case *core.Answer:
		desc := p.SessionDescription
		s.enqueue(func() { c.applyAnswer(s, desc) })
	case *core.ICECandidate:
		cand := p.ICECandidateInit
		s.enqueue(func() { c.addCandidate(s, cand) })
	default:
		c.log.Debug().Str("event", string(ev.Type)).Msg("not a signaling event")
	}
}

// HandleMalformed aborts the live session when a signaling frame could not
// be decoded.
func (c *Coordinator) HandleMalformed(tag core.EventType, err error) {
	switch tag {
	case core.EventOffer, core.EventAnswer, core.EventICECandidate:
	default:
		return
	}
	s := c.current()
	if s == nil || s.State().Terminal() {
		return
	}
	c.fail(s, &SignalingError{Event: tag, Err: err})
}

func (c *Coordinator) applyOffer(s *session, desc webrtc.SessionDescription) {
	s.mu.Lock()
	peer := s.peer
	if s.state.Terminal() || peer == nil {
		s.mu.Unlock()
		return
	}
	if s.remoteSet && s.remoteSDP == desc.SDP {
		s.mu.Unlock()
		s.log.Debug().Msg("duplicate offer ignored")
		return
	}
	if c.opts.Role == RoleOfferer && s.awaitingAnswer {
		s.mu.Unlock()
		c.fail(s, &SignalingError{Event: core.EventOffer, Err: errors.New("offer while awaiting answer")})
		return
	}
	s.mu.Unlock()

	if err := peer.SetRemoteDescription(desc); err != nil {
		c.fail(s, &SignalingError{Event: core.EventOffer, Err: err})
		return
	}
	c.remoteApplied(s, desc.SDP)

	answer, err := peer.CreateAnswer()
	if err != nil {
		c.fail(s, &SignalingError{Event: core.EventOffer, Err: fmt.Errorf("create answer: %w", err)})
		return
	}
	if s.State().Terminal() {
		return
	}
	c.send(core.NewEvent(&core.Answer{SessionDescription: answer}, s.channelID, ""))
}

func (c *Coordinator) applyAnswer(s *session, desc webrtc.SessionDescription) {
	s.mu.Lock()
	peer := s.peer
	if s.state.Terminal() || peer == nil {
		s.mu.Unlock()
		return
	}
	if s.remoteSet && s.remoteSDP == desc.SDP {
		s.mu.Unlock()
		s.log.Debug().Msg("duplicate answer ignored")
		return
	}
	if !s.awaitingAnswer {
		s.mu.Unlock()
		c.fail(s, &SignalingError{Event: core.EventAnswer, Err: errors.New("answer without outstanding offer")})
		return
	}
	s.awaitingAnswer = false
	s.mu.Unlock()

	if err := peer.SetRemoteDescription(desc); err != nil {
		c.fail(s, &SignalingError{Event: core.EventAnswer, Err: err})
		return
	}
	c.remoteApplied(s, desc.SDP)
}

// remoteApplied marks the remote description as set and drains the
// candidates that arrived before it, in arrival order.
func (c *Coordinator) remoteApplied(s *session, sdp string) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.remoteSet = true
	s.remoteSDP = sdp
	pending := s.pending
	s.pending = nil
	peer := s.peer
	s.mu.Unlock()

	if len(pending) > 0 {
		s.log.Debug().Int("count", len(pending)).Msg("draining queued candidates")
	}
	for _, cand := range pending {
		if err := peer.AddICECandidate(cand); err != nil {
			s.log.Warn().Err(err).Msg("add queued candidate")
		}
	}
}

func (c *Coordinator) addCandidate(s *session, cand webrtc.ICECandidateInit) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	if !s.remoteSet {
		s.pending = append(s.pending, cand)
		s.mu.Unlock()
		return
	}
	peer := s.peer
	s.mu.Unlock()

	if err := peer.AddICECandidate(cand); err != nil {
		s.log.Warn().Err(err).Msg("add candidate")
	}
}

func (c *Coordinator) createOffer(s *session) {
	s.mu.Lock()
	peer := s.peer
	if s.state.Terminal() || peer == nil {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	offer, err := peer.CreateOffer()
	if err != nil {
		c.fail(s, fmt.Errorf("create offer: %w", err))
		return
	}
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.awaitingAnswer = true
	s.mu.Unlock()
	c.send(core.NewEvent(&core.Offer{SessionDescription: offer}, s.channelID, ""))
}

// wire routes peer callbacks back into the session that owns the peer.
func (c *Coordinator) wire(s *session, peer core.MediaConnection) {
	peer.OnICECandidate(func(cand webrtc.ICECandidateInit) {
		if s.State().Terminal() || !c.isCurrent(s) {
			return
		}
		c.send(core.NewEvent(&core.ICECandidate{ICECandidateInit: cand}, s.channelID, ""))
	})
	peer.OnTrack(func(t core.RemoteTrack) {
		s.enqueue(func() { c.addRemote(s, t) })
	})
	peer.OnConnectionState(func(st webrtc.PeerConnectionState) {
		s.enqueue(func() { c.peerState(s, st) })
	})
}

func (c *Coordinator) addRemote(s *session, t core.RemoteTrack) {
	rs, added := s.addStream(t)
	if !added {
		return
	}
	s.log.Info().Str("stream_id", rs.StreamID).Str("kind", rs.Kind).Msg("remote stream")
	c.mu.Lock()
	fns := slices.Clone(c.onStream)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(rs)
	}
}

func (c *Coordinator) peerState(s *session, st webrtc.PeerConnectionState) {
	s.mu.Lock()
	s.connStatus = st.String()
	s.mu.Unlock()

	switch st {
	case webrtc.PeerConnectionStateConnected:
		if s.State() == StateNegotiating && c.move(s, StateConnected) {
			s.mu.Lock()
			if s.timer != nil {
				s.timer.Stop()
				s.timer = nil
			}
			s.mu.Unlock()
		}
	case webrtc.PeerConnectionStateFailed:
		c.fail(s, ErrPeerFailed)
	case webrtc.PeerConnectionStateClosed:
		if s.end(StateClosed, nil) {
			c.notifyState(StateClosed)
		}
	}
}

func (c *Coordinator) armTimeout(s *session) {
	d := c.opts.NegotiationTimeout
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timer = time.AfterFunc(d, func() {
		if s.State() == StateConnected {
			return
		}
		c.fail(s, &NegotiationTimeout{After: d})
	})
}

func (c *Coordinator) move(s *session, to State) bool {
	if !s.transition(to) {
		return false
	}
	if c.isCurrent(s) {
		c.notifyState(to)
	}
	return true
}

func (c *Coordinator) fail(s *session, err error) {
	if s.end(StateFailed, err) && c.isCurrent(s) {
		c.notifyState(StateFailed)
	}
}

func (c *Coordinator) notifyState(st State) {
	c.mu.Lock()
	fns := slices.Clone(c.onState)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

func (c *Coordinator) send(ev core.Event) {
	if err := c.opts.Sender.Send(ev); err != nil {
		c.log.Warn().Err(err).Str("event", string(ev.Type)).Msg("send failed")
	}
}
