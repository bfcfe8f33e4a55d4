package router

import (
	"sync"

	"github.com/dkeye/voicesync/internal/core"
	"github.com/dkeye/voicesync/internal/domain"
)

// PresenceStore keeps the last reported status per user.
type PresenceStore struct {
	mu       sync.RWMutex
	statuses map[domain.ID]domain.PresenceStatus
}

func NewPresenceStore() *PresenceStore {
	return &PresenceStore{statuses: make(map[domain.ID]domain.PresenceStatus)}
}

func (s *PresenceStore) Handle(ev core.Event) {
	p, ok := ev.Payload.(*core.PresenceUpdate)
	if !ok {
		return
	}
	s.mu.Lock()
	s.statuses[p.UserID] = p.Status
	s.mu.Unlock()
}

// Status returns offline for users never reported.
func (s *PresenceStore) Status(userID domain.ID) domain.PresenceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.statuses[userID]; ok {
		return st
	}
	return domain.StatusOffline
}

func (s *PresenceStore) Snapshot() map[domain.ID]domain.PresenceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.ID]domain.PresenceStatus, len(s.statuses))
	for k, v := range s.statuses {
		out[k] = v
	}
	return out
}

func (s *PresenceStore) Reset() {
	s.mu.Lock()
	s.statuses = make(map[domain.ID]domain.PresenceStatus)
	s.mu.Unlock()
}
