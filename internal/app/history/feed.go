package history

import (
	"context"
	"sort"
	"sync"

	"github.com/dkeye/voicesync/internal/domain"
)

type opKind int

const (
	opCreate opKind = iota
	opUpdate
	opDelete
)

// op is a live mutation remembered while a fetch is in flight, so it can be
// replayed on top of the fetched history.
type op struct {
	kind opKind
	msg  domain.Message
	id   domain.ID
}

// Feed is the merged message list of one open channel.
type Feed struct {
	mu       sync.Mutex
	sub      domain.ChannelSubscription
	messages []domain.Message
	loaded   bool
	fetching bool
	buffered []op
	gen      uint64
	err      error
	closed   bool
	cancel   context.CancelFunc
}

func newFeed(serverID, channelID domain.ID) *Feed {
	return &Feed{sub: domain.ChannelSubscription{ServerID: serverID, ChannelID: channelID}}
}

// Snapshot returns a copy of the feed and whether the first history load is
// still running.
func (f *Feed) Snapshot() ([]domain.Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Message(nil), f.messages...), !f.loaded
}

func (f *Feed) Subscription() domain.ChannelSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sub
}

// Err is the error of the last failed fetch.
func (f *Feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// beginFetch starts a new fetch generation. Older fetches still in flight
// are ignored when they land, but the ops buffered for them carry over.
func (f *Feed) beginFetch(cancel context.CancelFunc) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
	}
	if !f.fetching {
		f.buffered = nil
	}
	f.gen++
	f.fetching = true
	f.cancel = cancel
	return f.gen
}

// live applies op now, and remembers it when a fetch is in flight.
func (f *Feed) live(o op) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	if f.fetching {
		f.buffered = append(f.buffered, o)
	}
	changed := f.applyLocked(o)
	f.touchLocked()
	return changed
}

func (f *Feed) applyLocked(o op) bool {
	switch o.kind {
	case opCreate:
		if f.indexLocked(o.msg.ID) >= 0 {
			return false
		}
		f.messages = append(f.messages, o.msg)
		return true
	case opUpdate:
		i := f.indexLocked(o.msg.ID)
		if i < 0 {
			return false
		}
		f.messages[i] = mergeUpdate(f.messages[i], o.msg)
		return true
	case opDelete:
		i := f.indexLocked(o.id)
		if i < 0 {
			return false
		}
		f.messages = append(f.messages[:i], f.messages[i+1:]...)
		return true
	}
	return false
}

func (f *Feed) indexLocked(id domain.ID) int {
	for i := range f.messages {
		if f.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// merge lays fetched history under the feed. On a resync, local messages
// newer than the fetched page survive; older ones missing from it were
// deleted while we were away.
func (f *Feed) merge(gen uint64, history []domain.Message, fetchErr error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || gen != f.gen {
		return false
	}
	f.fetching = false
	f.cancel = nil
	buffered := f.buffered
	f.buffered = nil

	if fetchErr != nil {
		f.err = fetchErr
		f.loaded = true
		return true
	}
	f.err = nil

	history = normalize(history)
	merged := make([]domain.Message, 0, len(history)+len(f.messages))
	seen := make(map[domain.ID]struct{}, len(history))
	for _, m := range history {
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	if f.loaded && len(history) > 0 {
		newest := history[len(history)-1].CreatedAt
		for _, m := range f.messages {
			if _, dup := seen[m.ID]; dup || !m.CreatedAt.After(newest) {
				continue
			}
			seen[m.ID] = struct{}{}
			merged = append(merged, m)
		}
	}
	f.messages = merged
	f.loaded = true
	for _, o := range buffered {
		f.applyLocked(o)
	}
	f.touchLocked()
	return true
}

func (f *Feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.buffered = nil
}

func (f *Feed) touchLocked() {
	if n := len(f.messages); n > 0 {
		f.sub.LastSeenMessageID = f.messages[n-1].ID
	} else {
		f.sub.LastSeenMessageID = ""
	}
}

// normalize returns history oldest first without duplicate ids, whatever
// order the backend used.
func normalize(history []domain.Message) []domain.Message {
	out := make([]domain.Message, 0, len(history))
	seen := make(map[domain.ID]struct{}, len(history))
	for _, m := range history {
		if _, dup := seen[m.ID]; dup || m.ID.Empty() {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	if n := len(out); n > 1 && out[0].CreatedAt.After(out[n-1].CreatedAt) {
		for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// mergeUpdate keeps fields an update event left out.
func mergeUpdate(old, upd domain.Message) domain.Message {
	if upd.ChannelID.Empty() {
		upd.ChannelID = old.ChannelID
	}
	if upd.AuthorID.Empty() {
		upd.AuthorID = old.AuthorID
	}
	if upd.Author == nil {
		upd.Author = old.Author
	}
	if upd.CreatedAt.IsZero() {
		upd.CreatedAt = old.CreatedAt
	}
	return upd
}
