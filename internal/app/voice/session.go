package voice

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/voicesync/internal/core"
	"github.com/dkeye/voicesync/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// RemoteStream is one remote participant's audio as seen by this session.
type RemoteStream struct {
	StreamID string           `json:"stream_id"`
	TrackID  string           `json:"track_id"`
	Kind     string           `json:"kind"`
	Track    core.RemoteTrack `json:"-"`
}

// session is one join attempt. Negotiation steps run on its own serial
// worker so the event read loop never waits on the peer connection.
type session struct {
	id        string
	channelID domain.ID
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	state          State
	peer           core.MediaConnection
	media          core.LocalMedia
	remoteSet      bool
	remoteSDP      string
	pending        []webrtc.ICECandidateInit
	awaitingAnswer bool
	connStatus     string
	err            error
	timer          *time.Timer
	streams        []RemoteStream

	qmu     sync.Mutex
	ops     []func()
	ready   bool
	running bool
}

func newSession(parent context.Context, id string, channelID domain.ID, logger zerolog.Logger) *session {
	ctx, cancel := context.WithCancel(parent)
	return &session{
		id:        id,
		channelID: channelID,
		log:       logger.With().Str("sid", id).Str("channel_id", channelID.String()).Logger(),
		ctx:       ctx,
		cancel:    cancel,
		state:     StateIdle,
	}
}

func (s *session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition moves the session along the transition table. Illegal moves
// are rejected and logged.
func (s *session) transition(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(to)
}

func (s *session) transitionLocked(to State) bool {
	from := s.state
	if !canTransition(from, to) {
		if from != to {
			s.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("illegal state transition rejected")
		}
		return false
	}
	s.state = to
	s.log.Info().Str("from", from.String()).Str("to", to.String()).Msg("voice state")
	return true
}

// end moves the session into a terminal state and releases everything it
// holds. It returns false if the session had already ended.
func (s *session) end(to State, cause error) bool {
	s.mu.Lock()
	if s.state.Terminal() || !s.transitionLocked(to) {
		s.mu.Unlock()
		return false
	}
	if cause != nil {
		s.err = cause
	}
	peer, media := s.peer, s.media
	s.peer, s.media = nil, nil
	s.pending = nil
	s.streams = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	s.qmu.Lock()
	s.ops = nil
	s.qmu.Unlock()

	s.cancel()
	if peer != nil {
		peer.Close()
	}
	if media != nil {
		media.Stop()
	}
	if cause != nil {
		s.log.Error().Err(cause).Str("state", to.String()).Msg("voice session ended")
	} else {
		s.log.Info().Str("state", to.String()).Msg("voice session ended")
	}
	return true
}

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// attachMedia hands acquired media to the session. It fails when the
// session ended while the device was being opened.
func (s *session) attachMedia(m core.LocalMedia) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateJoining {
		return false
	}
	s.media = m
	return true
}

func (s *session) attachPeer(p core.MediaConnection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateJoining {
		return false
	}
	s.peer = p
	return true
}

// enqueue appends op to the worker queue. Ops queued before the session
// is ready to negotiate wait until start.
func (s *session) enqueue(op func()) {
	s.qmu.Lock()
	s.ops = append(s.ops, op)
	if !s.ready || s.running {
		s.qmu.Unlock()
		return
	}
	s.running = true
	s.qmu.Unlock()
	go s.work()
}

func (s *session) start() {
	s.qmu.Lock()
	s.ready = true
	if s.running || len(s.ops) == 0 {
		s.qmu.Unlock()
		return
	}
	s.running = true
	s.qmu.Unlock()
	go s.work()
}

func (s *session) work() {
	for {
		s.qmu.Lock()
		if len(s.ops) == 0 {
			s.running = false
			s.qmu.Unlock()
			return
		}
		op := s.ops[0]
		s.ops[0] = nil
		s.ops = s.ops[1:]
		s.qmu.Unlock()

		if s.ctx.Err() != nil {
			continue
		}
		op()
	}
}

// barrier blocks until every op queued before it has run.
func (s *session) barrier() {
	done := make(chan struct{})
	s.enqueue(func() { close(done) })
	select {
	case <-done:
	case <-s.ctx.Done():
	}
}

// addStream records a remote track, one entry per stream id.
func (s *session) addStream(t core.RemoteTrack) (RemoteStream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return RemoteStream{}, false
	}
	for _, st := range s.streams {
		if st.StreamID == t.StreamID() {
			return RemoteStream{}, false
		}
	}
	rs := RemoteStream{StreamID: t.StreamID(), TrackID: t.ID(), Kind: t.Kind().String(), Track: t}
	s.streams = append(s.streams, rs)
	return rs, true
}

func (s *session) remoteStreams() []RemoteStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RemoteStream(nil), s.streams...)
}
