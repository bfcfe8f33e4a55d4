package media

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSource_SilenceAcquireAndStop(t *testing.T) {
	src := NewSource(Silence)
	lm, err := src.Acquire(context.Background())
	require.NoError(t, err)

	tracks := lm.Tracks()
	require.Len(t, tracks, 1)
	assert.Equal(t, webrtc.RTPCodecTypeAudio, tracks[0].Kind())

	c := lm.(*Capture)
	assert.False(t, c.Stopped())
	lm.Stop()
	lm.Stop()
	assert.True(t, c.Stopped())
}

func TestSource_NoDevice(t *testing.T) {
	_, err := NewSource(None).Acquire(context.Background())
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestSource_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSource(Silence).Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenerFor(t *testing.T) {
	_, err := OpenerFor("silence")
	assert.NoError(t, err)
	_, err = OpenerFor("none")
	assert.NoError(t, err)
	_, err = OpenerFor("mic")
	assert.Error(t, err)
}

type fakeTrack struct {
	stream string
	pkts   chan *rtp.Packet
}

func newFakeTrack(stream string) *fakeTrack {
	return &fakeTrack{stream: stream, pkts: make(chan *rtp.Packet, 16)}
}

func (f *fakeTrack) ID() string                { return "t-" + f.stream }
func (f *fakeTrack) StreamID() string          { return f.stream }
func (f *fakeTrack) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeAudio }
func (f *fakeTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	p, ok := <-f.pkts
	if !ok {
		return nil, nil, io.EOF
	}
	return p, nil, nil
}

type recorder struct {
	mu   sync.Mutex
	seqs []uint16
	err  error
}

func (r *recorder) WriteRTP(p *rtp.Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.seqs = append(r.seqs, p.SequenceNumber)
	return nil
}

func (r *recorder) got() []uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint16(nil), r.seqs...)
}

func TestSinkManager_DrainsAndForwards(t *testing.T) {
	rec := &recorder{}
	m := NewSinkManager(func(string) Output { return rec })
	track := newFakeTrack("s1")
	m.Start(context.Background(), track)
	require.True(t, m.Has("s1"))

	for i := uint16(1); i <= 3; i++ {
		track.pkts <- &rtp.Packet{Header: rtp.Header{SequenceNumber: i}, Payload: []byte{1, 2}}
	}
	assert.Eventually(t, func() bool { return len(rec.got()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint16{1, 2, 3}, rec.got())

	require.True(t, m.SetMuted("s1", true))
	track.pkts <- &rtp.Packet{Header: rtp.Header{SequenceNumber: 4}, Payload: []byte{1}}
	assert.Eventually(t, func() bool {
		stats := m.Stats()
		return len(stats) == 1 && stats[0].Packets == 4
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint16{1, 2, 3}, rec.got(), "muted sink does not forward")

	stats := m.Stats()[0]
	assert.Equal(t, uint64(7), stats.Bytes)
	assert.Equal(t, uint16(4), stats.LastSeq)
	assert.True(t, stats.Muted)

	m.Stop("s1")
	assert.False(t, m.Has("s1"))
	assert.False(t, m.SetMuted("s1", false))
	close(track.pkts)
}

func TestSinkManager_WriteErrorMutes(t *testing.T) {
	rec := &recorder{err: errors.New("device gone")}
	m := NewSinkManager(func(string) Output { return rec })
	track := newFakeTrack("s2")
	m.Start(context.Background(), track)

	track.pkts <- &rtp.Packet{Header: rtp.Header{SequenceNumber: 1}}
	assert.Eventually(t, func() bool {
		stats := m.Stats()
		return len(stats) == 1 && stats[0].Muted
	}, time.Second, 5*time.Millisecond)

	m.StopAll()
	assert.Empty(t, m.Stats())
	close(track.pkts)
}
