package router

import (
	"sort"
	"sync"

	"github.com/dkeye/voicesync/internal/core"
	"github.com/dkeye/voicesync/internal/domain"
)

// MemberStore is the member list of the current server.
type MemberStore struct {
	mu       sync.RWMutex
	serverID domain.ID
	members  map[domain.ID]domain.Member
}

func NewMemberStore() *MemberStore {
	return &MemberStore{members: make(map[domain.ID]domain.Member)}
}

// SetServer switches to another server and forgets the previous list.
func (s *MemberStore) SetServer(id domain.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.serverID == id {
		return
	}
	s.serverID = id
	s.members = make(map[domain.ID]domain.Member)
}

// Load replaces the list with a REST listing.
func (s *MemberStore) Load(serverID domain.ID, members []domain.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if serverID != s.serverID {
		return
	}
	s.members = make(map[domain.ID]domain.Member, len(members))
	for _, m := range members {
		s.members[m.UserID] = m
	}
}

func (s *MemberStore) Handle(ev core.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !ev.ServerID.Empty() && ev.ServerID != s.serverID {
		return
	}
	switch p := ev.Payload.(type) {
	case *core.MemberAdd:
		m := p.Member
		if m.ServerID.Empty() {
			m.ServerID = s.serverID
		}
		s.members[m.UserID] = m
	case *core.MemberRemove:
		delete(s.members, p.UserID)
	}
}

func (s *MemberStore) Get(userID domain.ID) (domain.Member, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[userID]
	return m, ok
}

// Snapshot lists members ordered by user id.
func (s *MemberStore) Snapshot() []domain.Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Member, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
