package router

import (
	"github.com/dkeye/voicesync/internal/core"
	"github.com/dkeye/voicesync/internal/domain"
	"github.com/rs/zerolog"
)

// MessageSink receives chat mutations. The history reconciler implements it.
type MessageSink interface {
	ApplyCreate(domain.Message)
	ApplyUpdate(domain.Message)
	ApplyDelete(channelID, messageID domain.ID)
}

type typingClearer interface {
	ClearAuthor(channelID, userID domain.ID)
}

// MessageHandler feeds MESSAGE_* events into the open channel feeds. A new
// message also ends its author's typing indicator.
type MessageHandler struct {
	sink   MessageSink
	typing typingClearer
	log    zerolog.Logger
}

func NewMessageHandler(sink MessageSink, typing typingClearer, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{
		sink:   sink,
		typing: typing,
		log:    logger.With().Str("module", "messages").Logger(),
	}
}

func (h *MessageHandler) Handle(ev core.Event) {
	switch p := ev.Payload.(type) {
	case *core.MessageCreate:
		msg := withChannel(p.Message, ev.ChannelID)
		h.sink.ApplyCreate(msg)
		if h.typing != nil {
			h.typing.ClearAuthor(msg.ChannelID, msg.AuthorID)
		}
	case *core.MessageUpdate:
		h.sink.ApplyUpdate(withChannel(p.Message, ev.ChannelID))
	case *core.MessageDelete:
		channelID := p.ChannelID
		if channelID.Empty() {
			channelID = ev.ChannelID
		}
		h.sink.ApplyDelete(channelID, p.ID)
	default:
		h.log.Debug().Str("event", string(ev.Type)).Msg("unexpected event")
	}
}

func withChannel(m domain.Message, channelID domain.ID) domain.Message {
	if m.ChannelID.Empty() {
		m.ChannelID = channelID
	}
	if m.AuthorID.Empty() && m.Author != nil {
		m.AuthorID = m.Author.ID
	}
	return m
}
