package client

import (
	"context"

	"github.com/dkeye/voicesync/internal/adapters/media"
	"github.com/dkeye/voicesync/internal/app/voice"
	"github.com/dkeye/voicesync/internal/domain"
)

// JoinVoice moves the local user into channelID, replacing any current
// voice session.
func (c *Client) JoinVoice(ctx context.Context, channelID domain.ID) error {
	c.Sinks.StopAll()
	return c.Voice.JoinChannel(ctx, channelID)
}

func (c *Client) LeaveVoice() {
	c.Voice.Leave()
}

// VoiceView is the voice part of the control API.
type VoiceView struct {
	State     string               `json:"state"`
	ChannelID domain.ID            `json:"channel_id,omitempty"`
	PeerState string               `json:"peer_state,omitempty"`
	Streams   []voice.RemoteStream `json:"streams"`
	Sinks     []media.SinkStats    `json:"sinks"`
	Error     string               `json:"error,omitempty"`
}

func (c *Client) VoiceView() VoiceView {
	v := VoiceView{
		State:     c.Voice.State().String(),
		ChannelID: c.Voice.ChannelID(),
		PeerState: c.Voice.ConnectionStatus(),
		Streams:   c.Voice.RemoteStreams(),
		Sinks:     c.Sinks.Stats(),
	}
	if err := c.Voice.Err(); err != nil {
		v.Error = err.Error()
	}
	return v
}
