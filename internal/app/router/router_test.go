package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/voicesync/internal/core"
	"github.com/dkeye/voicesync/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []core.Event
}

func (h *recordingHandler) Handle(ev core.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *recordingHandler) got() []core.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]core.Event(nil), h.events...)
}

type malformedRecorder struct {
	tags []core.EventType
}

func (m *malformedRecorder) HandleMalformed(tag core.EventType, err error) {
	m.tags = append(m.tags, tag)
}

type fakeSubscriber struct {
	mu   sync.Mutex
	subs map[core.EventType]func(core.Frame)
}

func (f *fakeSubscriber) Subscribe(tag core.EventType, fn func(core.Frame)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[core.EventType]func(core.Frame))
	}
	f.subs[tag] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, tag)
	}
}

func (f *fakeSubscriber) push(raw string) {
	tag, _ := core.PeekType(core.Frame(raw))
	f.mu.Lock()
	fn := f.subs[tag]
	f.mu.Unlock()
	if fn != nil {
		fn(core.Frame(raw))
	}
}

func TestRouter_DispatchRoutesByTag(t *testing.T) {
	r := New(zerolog.Nop())
	msgs := &recordingHandler{}
	typing := &recordingHandler{}
	r.Route(msgs, core.EventMessageCreate, core.EventMessageDelete)
	r.Register(core.EventTypingStart, typing)

	r.Dispatch(core.Frame(`{"event":"MESSAGE_CREATE","channel_id":"c1","data":{"id":"1"}}`))
	r.Dispatch(core.Frame(`{"event":"TYPING_START","channel_id":"c1","data":{"user_id":"2"}}`))
	r.Dispatch(core.Frame(`{"event":"MESSAGE_DELETE","data":{"id":"1"}}`))
	r.Dispatch(core.Frame(`{"event":"SOMETHING_NEW","data":{}}`))
	r.Dispatch(core.Frame(`not json`))

	require.Len(t, msgs.got(), 2)
	assert.Equal(t, core.EventMessageCreate, msgs.got()[0].Type)
	assert.Equal(t, core.EventMessageDelete, msgs.got()[1].Type)
	require.Len(t, typing.got(), 1)
	assert.Equal(t, domain.ID("2"), typing.got()[0].Payload.(*core.TypingStart).UserID)
}

func TestRouter_MalformedReportedAndDropped(t *testing.T) {
	r := New(zerolog.Nop())
	h := &recordingHandler{}
	m := &malformedRecorder{}
	r.Register(core.EventOffer, h)
	r.OnMalformed(m)

	r.Dispatch(core.Frame(`{"event":"WEBRTC_OFFER","data":{"type":"answer","sdp":"v=0"}}`))
	r.Dispatch(core.Frame(`{"event":"WEBRTC_OFFER","data":"oops"}`))

	assert.Empty(t, h.got())
	assert.Equal(t, []core.EventType{core.EventOffer, core.EventOffer}, m.tags)
}

func TestRouter_ServerScope(t *testing.T) {
	r := New(zerolog.Nop())
	h := &recordingHandler{}
	r.Register(core.EventPresenceUpdate, h)
	r.SetServer("s1")

	r.Dispatch(core.Frame(`{"event":"PRESENCE_UPDATE","server_id":"s2","data":{"user_id":"1","status":"online"}}`))
	r.Dispatch(core.Frame(`{"event":"PRESENCE_UPDATE","server_id":"s1","data":{"user_id":"1","status":"online"}}`))
	r.Dispatch(core.Frame(`{"event":"PRESENCE_UPDATE","data":{"user_id":"1","status":"away"}}`))

	assert.Len(t, h.got(), 2)
	assert.Equal(t, domain.ID("s1"), r.Server())
}

func TestRouter_AttachAndDetach(t *testing.T) {
	r := New(zerolog.Nop())
	h := &recordingHandler{}
	r.Register(core.EventTypingStart, h)
	sub := &fakeSubscriber{}

	detach := r.Attach(sub)
	sub.push(`{"event":"TYPING_START","data":{"user_id":"1"}}`)
	assert.Len(t, h.got(), 1)

	detach()
	sub.push(`{"event":"TYPING_START","data":{"user_id":"1"}}`)
	assert.Len(t, h.got(), 1)
}

type fakeSink struct {
	created []domain.Message
	updated []domain.Message
	deleted [][2]domain.ID
}

func (s *fakeSink) ApplyCreate(m domain.Message)        { s.created = append(s.created, m) }
func (s *fakeSink) ApplyUpdate(m domain.Message)        { s.updated = append(s.updated, m) }
func (s *fakeSink) ApplyDelete(channelID, id domain.ID) { s.deleted = append(s.deleted, [2]domain.ID{channelID, id}) }

func TestMessageHandler(t *testing.T) {
	sink := &fakeSink{}
	typing := NewTypingRoster(time.Minute, nil)
	typing.Watch("c1")
	h := NewMessageHandler(sink, typing, zerolog.Nop())
	r := New(zerolog.Nop())
	r.Route(h, core.EventMessageCreate, core.EventMessageUpdate, core.EventMessageDelete)
	r.Register(core.EventTypingStart, typing)

	r.Dispatch(core.Frame(`{"event":"TYPING_START","channel_id":"c1","data":{"user_id":"7"}}`))
	require.Len(t, typing.Snapshot("c1"), 1)

	r.Dispatch(core.Frame(`{"event":"MESSAGE_CREATE","channel_id":"c1","data":{"id":"1","author":{"id":"7","username":"bob"},"content":"hi"}}`))
	r.Dispatch(core.Frame(`{"event":"MESSAGE_UPDATE","data":{"id":"1","channel_id":"c1","content":"hey"}}`))
	r.Dispatch(core.Frame(`{"event":"MESSAGE_DELETE","channel_id":"c1","data":{"id":"1"}}`))

	require.Len(t, sink.created, 1)
	assert.Equal(t, domain.ID("c1"), sink.created[0].ChannelID)
	assert.Equal(t, domain.ID("7"), sink.created[0].AuthorID)
	assert.Empty(t, typing.Snapshot("c1"), "message from the author clears typing")
	require.Len(t, sink.updated, 1)
	assert.Equal(t, "hey", sink.updated[0].Content)
	assert.Equal(t, [][2]domain.ID{{"c1", "1"}}, sink.deleted)
}

func TestTypingRoster_ExpiresAfterTTL(t *testing.T) {
	ttl := 40 * time.Millisecond
	roster := NewTypingRoster(ttl, func() domain.ID { return "me" })
	roster.Watch("c1")

	typing := func(user domain.ID) core.Event {
		return core.NewEvent(&core.TypingStart{UserID: user}, "c1", "")
	}
	roster.Handle(typing("7"))
	roster.Handle(typing("me"))
	roster.Handle(core.NewEvent(&core.TypingStart{UserID: "8"}, "c2", ""))

	snap := roster.Snapshot("c1")
	require.Len(t, snap, 1)
	assert.Equal(t, domain.ID("7"), snap[0].UserID)
	assert.Empty(t, roster.Snapshot("c2"), "unwatched channel")

	assert.Eventually(t, func() bool { return len(roster.Snapshot("c1")) == 0 }, ttl*10, 5*time.Millisecond)
}

func TestTypingRoster_RefreshExtends(t *testing.T) {
	ttl := 80 * time.Millisecond
	roster := NewTypingRoster(ttl, nil)
	roster.Watch("c1")
	ev := core.NewEvent(&core.TypingStart{UserID: "7"}, "c1", "")

	roster.Handle(ev)
	time.Sleep(50 * time.Millisecond)
	roster.Handle(ev)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, roster.Snapshot("c1"), 1, "refresh restarted the timer")

	assert.Eventually(t, func() bool { return len(roster.Snapshot("c1")) == 0 }, time.Second, 5*time.Millisecond)
}

func TestTypingRoster_UnwatchDrops(t *testing.T) {
	roster := NewTypingRoster(time.Minute, nil)
	changes := 0
	roster.OnChange(func(domain.ID) { changes++ })
	roster.Watch("c1")
	roster.Handle(core.NewEvent(&core.TypingStart{UserID: "7"}, "c1", ""))
	roster.ClearAuthor("c1", "nobody")
	roster.Unwatch("c1")

	assert.Empty(t, roster.Snapshot("c1"))
	assert.Equal(t, 1, changes)
	roster.Handle(core.NewEvent(&core.TypingStart{UserID: "7"}, "c1", ""))
	assert.Empty(t, roster.Snapshot("c1"))
}

func TestPresenceStore_LastWriteWins(t *testing.T) {
	s := NewPresenceStore()
	assert.Equal(t, domain.StatusOffline, s.Status("1"))

	s.Handle(core.NewEvent(&core.PresenceUpdate{PresenceEntry: domain.PresenceEntry{UserID: "1", Status: domain.StatusOnline}}, "", ""))
	s.Handle(core.NewEvent(&core.PresenceUpdate{PresenceEntry: domain.PresenceEntry{UserID: "1", Status: domain.StatusAway}}, "", ""))
	assert.Equal(t, domain.StatusAway, s.Status("1"))
	assert.Len(t, s.Snapshot(), 1)

	s.Reset()
	assert.Empty(t, s.Snapshot())
}

func TestMemberStore(t *testing.T) {
	s := NewMemberStore()
	s.SetServer("s1")
	s.Load("s1", []domain.Member{{UserID: "2"}, {UserID: "1"}})
	s.Load("s9", []domain.Member{{UserID: "9"}})

	add := func(server domain.ID, user domain.ID, nick string) {
		s.Handle(core.NewEvent(&core.MemberAdd{Member: domain.Member{UserID: user, Nickname: nick}}, "", server))
	}
	add("s1", "3", "c")
	add("s1", "3", "c2")
	add("s2", "4", "d")
	s.Handle(core.NewEvent(&core.MemberRemove{UserID: "2"}, "", "s1"))

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, domain.ID("1"), snap[0].UserID)
	m, ok := s.Get("3")
	require.True(t, ok)
	assert.Equal(t, "c2", m.Nickname)
	assert.Equal(t, domain.ID("s1"), m.ServerID)

	s.SetServer("s2")
	assert.Empty(t, s.Snapshot())
}

func TestVoiceRoster(t *testing.T) {
	r := NewVoiceRoster(zerolog.Nop())
	update := func(channel, user domain.ID, action domain.VoiceAction) {
		r.Handle(core.NewEvent(&core.VoiceStateUpdate{ChannelID: channel, UserID: user, Action: action}, "", ""))
	}
	update("v1", "1", domain.VoiceJoin)
	update("v1", "2", domain.VoiceJoin)
	update("v1", "1", domain.VoiceJoin)

	assert.Equal(t, []domain.VoiceParticipant{{UserID: "1", ChannelID: "v1"}, {UserID: "2", ChannelID: "v1"}}, r.Channel("v1"))

	update("v2", "1", domain.VoiceJoin)
	assert.Equal(t, []domain.VoiceParticipant{{UserID: "2", ChannelID: "v1"}}, r.Channel("v1"), "joining v2 leaves v1")
	assert.Equal(t, []domain.VoiceParticipant{{UserID: "1", ChannelID: "v2"}}, r.Channel("v2"))

	update("v2", "1", domain.VoiceLeave)
	update("v3", "5", domain.VoiceLeave)
	assert.Empty(t, r.Channel("v2"))
	assert.Equal(t, []domain.ID{"v1", "v2"}, r.Channels())

	snap := r.Snapshot()
	assert.Len(t, snap, 1)
}

func TestVoiceRoster_Resync(t *testing.T) {
	r := NewVoiceRoster(zerolog.Nop())
	r.Join("v1", "1")
	r.Join("v1", "2")

	calls := map[domain.ID]int{}
	list := func(_ context.Context, serverID, channelID domain.ID) ([]domain.ID, error) {
		assert.Equal(t, domain.ID("s1"), serverID)
		calls[channelID]++
		switch channelID {
		case "v1":
			return []domain.ID{"2"}, nil
		case "v2":
			return []domain.ID{"1", "3"}, nil
		default:
			return nil, errors.New("boom")
		}
	}

	err := r.Resync(context.Background(), "s1", list, "v2", "v1", "v9", "")
	assert.Error(t, err)
	assert.Equal(t, map[domain.ID]int{"v1": 1, "v2": 1, "v9": 1}, calls)
	assert.Equal(t, []domain.VoiceParticipant{{UserID: "2", ChannelID: "v1"}}, r.Channel("v1"))
	assert.Equal(t, []domain.VoiceParticipant{{UserID: "1", ChannelID: "v2"}, {UserID: "3", ChannelID: "v2"}}, r.Channel("v2"))
}
