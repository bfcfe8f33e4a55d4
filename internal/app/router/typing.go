package router

import (
	"sort"
	"sync"
	"time"

	"github.com/dkeye/voicesync/internal/core"
	"github.com/dkeye/voicesync/internal/domain"
)

const DefaultTypingTTL = 5 * time.Second

type typingEntry struct {
	entry domain.TypingEntry
	timer *time.Timer
	gen   uint64
}

// TypingRoster tracks who is typing in the watched channels. Each entry
// expires ttl after its last TYPING_START.
type TypingRoster struct {
	ttl       time.Duration
	localUser func() domain.ID

	mu       sync.Mutex
	channels map[domain.ID]map[domain.ID]*typingEntry
	gen      uint64
	onChange func(channelID domain.ID)
}

func NewTypingRoster(ttl time.Duration, localUser func() domain.ID) *TypingRoster {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	if localUser == nil {
		localUser = func() domain.ID { return "" }
	}
	return &TypingRoster{
		ttl:       ttl,
		localUser: localUser,
		channels:  make(map[domain.ID]map[domain.ID]*typingEntry),
	}
}

// OnChange registers fn, called after the roster of a channel changes.
func (t *TypingRoster) OnChange(fn func(channelID domain.ID)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// Watch starts tracking channelID.
func (t *TypingRoster) Watch(channelID domain.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.channels[channelID]; !ok {
		t.channels[channelID] = make(map[domain.ID]*typingEntry)
	}
}

// Unwatch stops tracking channelID and drops its entries.
func (t *TypingRoster) Unwatch(channelID domain.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.channels[channelID] {
		e.timer.Stop()
	}
	delete(t.channels, channelID)
}

func (t *TypingRoster) Handle(ev core.Event) {
	p, ok := ev.Payload.(*core.TypingStart)
	if !ok {
		return
	}
	channelID := p.ChannelID
	if channelID.Empty() {
		channelID = ev.ChannelID
	}
	if p.UserID == t.localUser() {
		return
	}

	t.mu.Lock()
	users, watched := t.channels[channelID]
	if !watched {
		t.mu.Unlock()
		return
	}
	t.gen++
	gen := t.gen
	if e, ok := users[p.UserID]; ok {
		e.timer.Stop()
	}
	users[p.UserID] = &typingEntry{
		entry: domain.TypingEntry{UserID: p.UserID, ChannelID: channelID, ExpiresAt: time.Now().Add(t.ttl)},
		gen:   gen,
		timer: time.AfterFunc(t.ttl, func() { t.expire(channelID, p.UserID, gen) }),
	}
	fn := t.onChange
	t.mu.Unlock()

	if fn != nil {
		fn(channelID)
	}
}

// expire drops an entry unless it was refreshed after its timer was armed.
func (t *TypingRoster) expire(channelID, userID domain.ID, gen uint64) {
	t.mu.Lock()
	e, ok := t.channels[channelID][userID]
	if !ok || e.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.channels[channelID], userID)
	fn := t.onChange
	t.mu.Unlock()

	if fn != nil {
		fn(channelID)
	}
}

// ClearAuthor removes userID's entry at once, e.g. when their message lands.
func (t *TypingRoster) ClearAuthor(channelID, userID domain.ID) {
	t.mu.Lock()
	e, ok := t.channels[channelID][userID]
	if !ok {
		t.mu.Unlock()
		return
	}
	e.timer.Stop()
	delete(t.channels[channelID], userID)
	fn := t.onChange
	t.mu.Unlock()

	if fn != nil {
		fn(channelID)
	}
}

// Snapshot lists who is typing in channelID, ordered by user id.
func (t *TypingRoster) Snapshot(channelID domain.ID) []domain.TypingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	users := t.channels[channelID]
	out := make([]domain.TypingEntry, 0, len(users))
	for _, e := range users {
		out = append(out, e.entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
