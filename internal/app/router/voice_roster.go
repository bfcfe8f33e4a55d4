package router

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/dkeye/voicesync/internal/core"
	"github.com/dkeye/voicesync/internal/domain"
	"github.com/rs/zerolog"
)

// VoiceRoster tracks who sits in which voice channel, in join order. A user
// is in at most one channel.
type VoiceRoster struct {
	log      zerolog.Logger
	mu       sync.RWMutex
	channels map[domain.ID][]domain.ID
}

func NewVoiceRoster(logger zerolog.Logger) *VoiceRoster {
	return &VoiceRoster{
		log:      logger.With().Str("module", "voice_roster").Logger(),
		channels: make(map[domain.ID][]domain.ID),
	}
}

func (r *VoiceRoster) Handle(ev core.Event) {
	p, ok := ev.Payload.(*core.VoiceStateUpdate)
	if !ok {
		return
	}
	switch p.Action {
	case domain.VoiceJoin:
		r.Join(p.ChannelID, p.UserID)
	case domain.VoiceLeave:
		r.Leave(p.ChannelID, p.UserID)
	}
}

// Join is a no-op when the user is already in channelID, and moves them
// otherwise.
func (r *VoiceRoster) Join(channelID, userID domain.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for cid, users := range r.channels {
		if cid == channelID {
			continue
		}
		r.channels[cid] = without(users, userID)
	}
	users := r.channels[channelID]
	for _, u := range users {
		if u == userID {
			return
		}
	}
	r.channels[channelID] = append(users, userID)
}

func (r *VoiceRoster) Leave(channelID, userID domain.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	users, ok := r.channels[channelID]
	if !ok {
		return
	}
	r.channels[channelID] = without(users, userID)
}

// Replace overwrites one channel with an authoritative listing.
func (r *VoiceRoster) Replace(channelID domain.ID, userIDs []domain.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for cid, users := range r.channels {
		if cid == channelID {
			continue
		}
		for _, u := range userIDs {
			users = without(users, u)
		}
		r.channels[cid] = users
	}
	r.channels[channelID] = append([]domain.ID(nil), userIDs...)
}

func (r *VoiceRoster) Channel(channelID domain.ID) []domain.VoiceParticipant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := r.channels[channelID]
	out := make([]domain.VoiceParticipant, len(users))
	for i, u := range users {
		out[i] = domain.VoiceParticipant{UserID: u, ChannelID: channelID}
	}
	return out
}

// Channels lists every channel with a known roster, ordered by id.
func (r *VoiceRoster) Channels() []domain.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ID, 0, len(r.channels))
	for cid := range r.channels {
		out = append(out, cid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *VoiceRoster) Snapshot() map[domain.ID][]domain.VoiceParticipant {
	out := make(map[domain.ID][]domain.VoiceParticipant)
	for _, cid := range r.Channels() {
		if ps := r.Channel(cid); len(ps) > 0 {
			out[cid] = ps
		}
	}
	return out
}

func (r *VoiceRoster) Reset() {
	r.mu.Lock()
	r.channels = make(map[domain.ID][]domain.ID)
	r.mu.Unlock()
}

// VoiceLister fetches the authoritative roster of one voice channel.
type VoiceLister func(ctx context.Context, serverID, channelID domain.ID) ([]domain.ID, error)

// Resync refetches the known channels plus extra after a reconnect, since
// VOICE_STATE_UPDATE events missed while down are never replayed.
func (r *VoiceRoster) Resync(ctx context.Context, serverID domain.ID, list VoiceLister, extra ...domain.ID) error {
	seen := make(map[domain.ID]struct{})
	var targets []domain.ID
	for _, cid := range append(r.Channels(), extra...) {
		if cid.Empty() {
			continue
		}
		if _, ok := seen[cid]; ok {
			continue
		}
		seen[cid] = struct{}{}
		targets = append(targets, cid)
	}

	var errs []error
	for _, cid := range targets {
		users, err := list(ctx, serverID, cid)
		if err != nil {
			r.log.Warn().Err(err).Str("channel_id", cid.String()).Msg("resync failed")
			errs = append(errs, err)
			continue
		}
		r.Replace(cid, users)
	}
	return errors.Join(errs...)
}

func without(users []domain.ID, userID domain.ID) []domain.ID {
	out := users[:0:0]
	for _, u := range users {
		if u != userID {
			out = append(out, u)
		}
	}
	return out
}
