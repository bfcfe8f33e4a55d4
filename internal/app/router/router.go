// Package router decodes frames from the signal channel and hands each one
// to the single handler registered for its tag. Handlers own their state.
package router

import (
	"errors"
	"sync"

	"github.com/dkeye/voicesync/internal/core"
	"github.com/dkeye/voicesync/internal/domain"
	"github.com/rs/zerolog"
)

type Handler interface {
	Handle(core.Event)
}

type HandlerFunc func(core.Event)

func (f HandlerFunc) Handle(ev core.Event) { f(ev) }

// MalformedHandler is told about frames whose tag is known but whose payload
// failed to decode.
type MalformedHandler interface {
	HandleMalformed(tag core.EventType, err error)
}

type Router struct {
	log zerolog.Logger

	mu        sync.RWMutex
	routes    map[core.EventType]Handler
	malformed []MalformedHandler
	serverID  domain.ID
}

func New(logger zerolog.Logger) *Router {
	return &Router{
		log:    logger.With().Str("module", "router").Logger(),
		routes: make(map[core.EventType]Handler),
	}
}

// Register binds h to tag, replacing any earlier handler for it.
func (r *Router) Register(tag core.EventType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.routes[tag]; ok {
		r.log.Warn().Str("event", string(tag)).Msg("handler replaced")
	}
	r.routes[tag] = h
}

// Route registers h for several tags at once.
func (r *Router) Route(h Handler, tags ...core.EventType) {
	for _, tag := range tags {
		r.Register(tag, h)
	}
}

func (r *Router) OnMalformed(h MalformedHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.malformed = append(r.malformed, h)
}

// SetServer scopes dispatch to one server. Events stamped with another
// server id are dropped; unstamped events pass.
func (r *Router) SetServer(id domain.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.serverID = id
}

func (r *Router) Server() domain.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.serverID
}

// Attach subscribes the router to every tag registered so far and returns a
// function that undoes it.
func (r *Router) Attach(sub core.Subscriber) (detach func()) {
	r.mu.RLock()
	tags := make([]core.EventType, 0, len(r.routes))
	for tag := range r.routes {
		tags = append(tags, tag)
	}
	r.mu.RUnlock()

	unsubs := make([]func(), 0, len(tags))
	for _, tag := range tags {
		unsubs = append(unsubs, sub.Subscribe(tag, r.Dispatch))
	}
	r.log.Info().Int("tags", len(tags)).Msg("attached")
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Dispatch decodes one frame and routes it. Unknown tags are ignored and
// malformed payloads are logged and dropped.
func (r *Router) Dispatch(raw core.Frame) {
	ev, err := core.Decode(raw)
	switch {
	case errors.Is(err, core.ErrUnknownEvent):
		r.log.Debug().Str("event", string(ev.Type)).Msg("unknown event ignored")
		return
	case err != nil:
		r.log.Warn().Err(err).Str("event", string(ev.Type)).Msg("malformed event dropped")
		if ev.Type != "" {
			r.reportMalformed(ev.Type, err)
		}
		return
	}

	r.mu.RLock()
	h, ok := r.routes[ev.Type]
	scope := r.serverID
	r.mu.RUnlock()

	if !ok {
		r.log.Debug().Str("event", string(ev.Type)).Msg("no handler")
		return
	}
	if !scope.Empty() && !ev.ServerID.Empty() && ev.ServerID != scope {
		r.log.Debug().Str("event", string(ev.Type)).Str("server_id", ev.ServerID.String()).Msg("out of scope")
		return
	}
	h.Handle(ev)
}

func (r *Router) reportMalformed(tag core.EventType, err error) {
	r.mu.RLock()
	hs := append([]MalformedHandler(nil), r.malformed...)
	r.mu.RUnlock()
	for _, h := range hs {
		h.HandleMalformed(tag, err)
	}
}
