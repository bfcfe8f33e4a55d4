package rtc

import (
	"context"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConn(t *testing.T, sid string) *WebRTCConnection {
	t.Helper()
	c, err := NewWebRTCConnection(DefaultWebRTCConfig(nil), sid)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Close)
	return c
}

func TestWebRTCConnection_OfferAnswer(t *testing.T) {
	offerer := newConn(t, "a")
	answerer := newConn(t, "b")

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "local",
	)
	require.NoError(t, err)
	require.NoError(t, answerer.AddLocalTrack(track))

	offer, err := offerer.CreateOffer()
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	assert.Contains(t, offer.SDP, "m=audio")
	assert.Equal(t, webrtc.SignalingStateHaveLocalOffer, offerer.SignalingState())

	require.NoError(t, answerer.SetRemoteDescription(offer))
	answer, err := answerer.CreateAnswer()
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	assert.Equal(t, webrtc.SignalingStateStable, answerer.SignalingState())
	require.NotNil(t, answerer.LocalDescription())

	require.NoError(t, offerer.SetRemoteDescription(answer))
	assert.Equal(t, webrtc.SignalingStateStable, offerer.SignalingState())
}

func TestWebRTCConnection_ClosedRejectsOperations(t *testing.T) {
	c := newConn(t, "c")
	c.Close()
	c.Close()

	_, err := c.CreateOffer()
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.ErrorIs(t, c.AddICECandidate(webrtc.ICECandidateInit{Candidate: ""}), ErrConnectionClosed)
	assert.ErrorIs(t, c.SetRemoteDescription(webrtc.SessionDescription{}), ErrConnectionClosed)
}

func TestWebRTCConnection_CancelledContextCloses(t *testing.T) {
	c, err := NewWebRTCConnection(DefaultWebRTCConfig(nil), "d")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx))
	cancel()

	assert.Eventually(t, c.isClosed, time.Second, 10*time.Millisecond)
}
