package voice

import (
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/voicesync/internal/core"
	"github.com/dkeye/voicesync/internal/domain"
)

var (
	ErrSuperseded = errors.New("voice session superseded")
	ErrNoChannel  = errors.New("voice channel id required")
	ErrPeerFailed = errors.New("peer connection failed")
)

// MediaAcquisitionError means the local microphone could not be opened. The
// join is abandoned and not retried.
type MediaAcquisitionError struct {
	ChannelID domain.ID
	Err       error
}

func (e *MediaAcquisitionError) Error() string {
	return fmt.Sprintf("voice %s: acquire media: %v", e.ChannelID, e.Err)
}

func (e *MediaAcquisitionError) Unwrap() error { return e.Err }

// SignalingError is a malformed or out-of-sequence signaling payload. It
// aborts the current session only.
type SignalingError struct {
	Event core.EventType
	Err   error
}

func (e *SignalingError) Error() string {
	return fmt.Sprintf("signaling %s: %v", e.Event, e.Err)
}

func (e *SignalingError) Unwrap() error { return e.Err }

type NegotiationTimeout struct {
	After time.Duration
}

func (e *NegotiationTimeout) Error() string {
	return fmt.Sprintf("negotiation not connected after %s", e.After)
}
