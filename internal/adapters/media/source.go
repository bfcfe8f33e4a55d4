// Package media provides local audio capture for voice sessions and sinks
// that drain remote audio tracks.
package media

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/voicesync/internal/core"
	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrNoDevice = errors.New("no audio capture device")

const (
	opusPayloadType = 111
	opusClockRate   = 48000
	frameDuration   = 20 * time.Millisecond
)

// opusSilence is a single encoded 20ms opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// FrameReader yields encoded audio frames, one per frameDuration.
type FrameReader interface {
	ReadFrame() ([]byte, error)
	Close() error
}

// Opener opens a capture device.
type Opener func() (FrameReader, error)

// OpenerFor maps the voice.capture config value to an Opener.
func OpenerFor(name string) (Opener, error) {
	switch name {
	case "silence":
		return Silence, nil
	case "none":
		return None, nil
	default:
		return nil, fmt.Errorf("unknown capture %q", name)
	}
}

type silenceReader struct{}

func (silenceReader) ReadFrame() ([]byte, error) { return opusSilence, nil }
func (silenceReader) Close() error               { return nil }

// Silence is a capture device that always produces silent frames.
func Silence() (FrameReader, error) { return silenceReader{}, nil }

// None is a machine without a microphone.
func None() (FrameReader, error) { return nil, ErrNoDevice }

// Source implements core.MediaSource on top of an Opener.
type Source struct {
	open Opener
}

var _ core.MediaSource = (*Source)(nil)

func NewSource(open Opener) *Source {
	return &Source{open: open}
}

func (s *Source) Acquire(ctx context.Context) (core.LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reader, err := s.open()
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2},
		"audio",
		"voicesync-"+uuid.NewString(),
	)
	if err != nil {
		_ = reader.Close()
		return nil, fmt.Errorf("create local track: %w", err)
	}
	c := newCapture(track, reader)
	go c.loop()
	log.Info().Str("module", "media").Str("track_id", track.ID()).Str("stream_id", track.StreamID()).Msg("capture started")
	return c, nil
}

// Capture is an acquired device feeding one local RTP track.
type Capture struct {
	track  *webrtc.TrackLocalStaticRTP
	reader FrameReader

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	stopped  atomic.Bool
	packets  atomic.Uint64

	seq  uint16
	ts   uint32
	ssrc uint32
}

func newCapture(track *webrtc.TrackLocalStaticRTP, reader FrameReader) *Capture {
	return &Capture{
		track:  track,
		reader: reader,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		seq:    uint16(rand.Uint32()),
		ts:     rand.Uint32(),
		ssrc:   rand.Uint32(),
	}
}

func (c *Capture) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{c.track}
}

func (c *Capture) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
		<-c.done
		_ = c.reader.Close()
		c.stopped.Store(true)
		log.Info().Str("module", "media").Str("track_id", c.track.ID()).Uint64("packets", c.packets.Load()).Msg("capture stopped")
	})
}

// Stopped reports whether the device has been released.
func (c *Capture) Stopped() bool { return c.stopped.Load() }

// Packets reports how many RTP packets were written to the track.
func (c *Capture) Packets() uint64 { return c.packets.Load() }

func (c *Capture) loop() {
	defer close(c.done)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	samplesPerFrame := uint32(opusClockRate * frameDuration / time.Second)
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}
		frame, err := c.reader.ReadFrame()
		if err != nil {
			log.Warn().Err(err).Str("module", "media").Msg("capture read failed")
			return
		}
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    opusPayloadType,
				SequenceNumber: c.seq,
				Timestamp:      c.ts,
				SSRC:           c.ssrc,
				Marker:         c.packets.Load() == 0,
			},
			Payload: frame,
		}
		c.seq++
		c.ts += samplesPerFrame
		if err := c.track.WriteRTP(pkt); err != nil {
			log.Debug().Err(err).Str("module", "media").Msg("capture write RTP")
			continue
		}
		c.packets.Add(1)
	}
}
