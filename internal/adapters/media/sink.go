package media

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dkeye/voicesync/internal/core"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type SinkState int32

const (
	SinkStateOk SinkState = iota
	SinkStateMuted
	SinkStateDelete
)

// Output receives remote audio, e.g. a playback device or a loopback track.
type Output interface {
	WriteRTP(*rtp.Packet) error
}

// Sink drains one remote track. Packets are counted always and forwarded to
// the output only while the sink is not muted.
type Sink struct {
	Src core.RemoteTrack

	state   atomic.Int32 // Zero by default (SinkStateOk)
	packets atomic.Uint64
	bytes   atomic.Uint64
	lastSeq atomic.Uint32

	out    Output
	cancel context.CancelFunc
	done   chan struct{}
}

type SinkStats struct {
	StreamID string `json:"stream_id"`
	Packets  uint64 `json:"packets"`
	Bytes    uint64 `json:"bytes"`
	LastSeq  uint16 `json:"last_seq"`
	Muted    bool   `json:"muted"`
}

func (s *Sink) GetState() SinkState { return SinkState(s.state.Load()) }
func (s *Sink) MarkOk()             { s.state.Store(int32(SinkStateOk)) }
func (s *Sink) MarkMuted()          { s.state.Store(int32(SinkStateMuted)) }
func (s *Sink) MarkDelete()         { s.state.Store(int32(SinkStateDelete)) }

func (s *Sink) Stats() SinkStats {
	return SinkStats{
		StreamID: s.Src.StreamID(),
		Packets:  s.packets.Load(),
		Bytes:    s.bytes.Load(),
		LastSeq:  uint16(s.lastSeq.Load()),
		Muted:    s.GetState() == SinkStateMuted,
	}
}

// loop reads RTP packets from the remote track until it ends or ctx is done.
func (s *Sink) loop(ctx context.Context, logger *zerolog.Logger) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("sink ctx done")
			s.MarkDelete()
			return
		default:
		}
		if s.GetState() == SinkStateDelete {
			return
		}
		pkt, _, err := s.Src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("sink read RTP stopped")
			s.MarkDelete()
			return
		}
		s.packets.Add(1)
		s.bytes.Add(uint64(len(pkt.Payload)))
		s.lastSeq.Store(uint32(pkt.SequenceNumber))

		if s.out == nil || s.GetState() != SinkStateOk {
			continue
		}
		if err := s.out.WriteRTP(pkt); err != nil {
			logger.Error().Err(err).Msg("sink write RTP error, muting")
			s.MarkMuted()
		}
	}
}

// SinkManager keeps one sink per remote stream id.
type SinkManager struct {
	mu    sync.RWMutex
	sinks map[string]*Sink
	out   func(streamID string) Output
}

// NewSinkManager builds a manager. out may be nil, in which case remote
// audio is only drained and counted.
func NewSinkManager(out func(streamID string) Output) *SinkManager {
	return &SinkManager{
		sinks: make(map[string]*Sink),
		out:   out,
	}
}

// Start creates a sink for the track's stream and starts draining it. An
// existing sink for the same stream is replaced.
func (m *SinkManager) Start(ctx context.Context, track core.RemoteTrack) {
	streamID := track.StreamID()
	logger := log.With().
		Str("module", "sink").
		Str("stream_id", streamID).
		Str("track_id", track.ID()).
		Logger()

	sinkCtx, cancel := context.WithCancel(ctx)
	sink := &Sink{Src: track, cancel: cancel, done: make(chan struct{})}
	if m.out != nil {
		sink.out = m.out(streamID)
	}

	m.mu.Lock()
	if old, ok := m.sinks[streamID]; ok {
		logger.Info().Msg("replacing existing sink for stream")
		old.MarkDelete()
		old.cancel()
	}
	m.sinks[streamID] = sink
	m.mu.Unlock()

	logger.Info().Msg("starting sink loop")
	go sink.loop(sinkCtx, &logger)
}

func (m *SinkManager) SetMuted(streamID string, muted bool) bool {
	m.mu.RLock()
	sink, ok := m.sinks[streamID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	if muted {
		sink.MarkMuted()
	} else {
		sink.MarkOk()
	}
	return true
}

// Stop stops a sink and removes it from the manager.
func (m *SinkManager) Stop(streamID string) {
	m.mu.Lock()
	sink, ok := m.sinks[streamID]
	if ok {
		delete(m.sinks, streamID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	sink.MarkDelete()
	sink.cancel()
}

func (m *SinkManager) StopAll() {
	m.mu.Lock()
	sinks := m.sinks
	m.sinks = make(map[string]*Sink)
	m.mu.Unlock()
	for _, s := range sinks {
		s.MarkDelete()
		s.cancel()
	}
}

func (m *SinkManager) Has(streamID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sinks[streamID]
	return ok
}

func (m *SinkManager) Stats() []SinkStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SinkStats, 0, len(m.sinks))
	for _, s := range m.sinks {
		out = append(out, s.Stats())
	}
	return out
}
