package store

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

// Memory is a Store kept in process memory.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]Session
	rooms    map[string]Room
	members  map[string]map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]Session),
		rooms:    make(map[string]Room),
		members:  make(map[string]map[string]struct{}),
	}
}

func (m *Memory) CreateSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.Token] = s
	return nil
}

func (m *Memory) GetSession(_ context.Context, token string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) TouchSession(_ context.Context, token string, at time.Time) error {
	return m.updateSession(token, func(s *Session) { s.LastSeen = at })
}

func (m *Memory) SetSessionRoom(_ context.Context, token, roomID string) error {
	return m.updateSession(token, func(s *Session) { s.RoomID = roomID })
}

func (m *Memory) updateSession(token string, fn func(*Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok {
		return ErrNotFound
	}
	fn(&s)
	m.sessions[token] = s
	return nil
}

func (m *Memory) DeleteSession(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	return nil
}

func (m *Memory) ExpiredSessions(_ context.Context, before time.Time) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.sessions {
		if s.LastSeen.Before(before) {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b Session) int { return a.LastSeen.Compare(b.LastSeen) })
	return out, nil
}

func (m *Memory) GetRoom(_ context.Context, id string) (Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return Room{}, ErrNotFound
	}
	r.Config = r.Config.Clone()
	return r, nil
}

func (m *Memory) PutRoom(_ context.Context, r Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.Config = r.Config.Clone()
	m.rooms[r.ID] = r
	delete(m.members, r.ID)
	return nil
}

func (m *Memory) DeleteRoom(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, id)
	delete(m.members, id)
	return nil
}

func (m *Memory) AddMember(_ context.Context, roomID, peerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.members[roomID]
	if !ok {
		set = make(map[string]struct{})
		m.members[roomID] = set
	}
	set[peerID] = struct{}{}
	return nil
}

func (m *Memory) RemoveMember(_ context.Context, roomID, peerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.members[roomID]
	delete(set, peerID)
	if len(set) == 0 {
		delete(m.members, roomID)
	}
	return len(set), nil
}

func (m *Memory) Members(_ context.Context, roomID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.members[roomID])), nil
}

func (m *Memory) Close() error { return nil }
