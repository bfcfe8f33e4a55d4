package core

import (
	"context"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources.
	Close()
	// AddLocalTrack attaches a local track to the underlying PeerConnection.
	AddLocalTrack(track webrtc.TrackLocal) error
	SetRemoteDescription(webrtc.SessionDescription) error
	// CreateAnswer creates an answer and sets it as the local description.
	CreateAnswer() (webrtc.SessionDescription, error)
	// CreateOffer creates an offer and sets it as the local description.
	CreateOffer() (webrtc.SessionDescription, error)
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(RemoteTrack))
	// OnConnectionState reports peer connection state changes.
	OnConnectionState(func(webrtc.PeerConnectionState))
}

// RemoteTrack is the subset of *webrtc.TrackRemote consumers rely on.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// LocalMedia is an acquired capture: its tracks and the means to release it.
type LocalMedia interface {
	Tracks() []webrtc.TrackLocal
	// Stop releases the capture device. Safe to call more than once.
	Stop()
}

// MediaSource acquires local audio capture.
type MediaSource interface {
	Acquire(ctx context.Context) (LocalMedia, error)
}
