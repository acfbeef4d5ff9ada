package chathub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"roomrelay/backend/internal/log"
	"roomrelay/backend/internal/models"
)

// RoomChecker answers whether a room may be opened. registry.Registry
// implements it.
type RoomChecker interface {
	Has(ctx context.Context, roomID string) (bool, error)
}

// ManagerService routes connections to room sessions, starting a session the
// first time its room is joined.
type ManagerService struct {
	Storage  Store
	Registry RoomChecker
	opts     Options

	mu       sync.Mutex
	sessions map[string]*Session
	opening  singleflight.Group
}

func NewManagerService(store Store, registry RoomChecker, opts Options) *ManagerService {
	return &ManagerService{
		Storage:  store,
		Registry: registry,
		opts:     opts.withDefaults(),
		sessions: make(map[string]*Session),
	}
}

// Lookup returns the running session for roomID, if any.
func (m *ManagerService) Lookup(roomID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[roomID]
	return s, ok
}

// Open returns the session for roomID, starting it if needed. Rooms missing
// from the registry get ErrRoomNotRegistered and no session.
func (m *ManagerService) Open(ctx context.Context, roomID string) (*Session, error) {
	if s, ok := m.Lookup(roomID); ok {
		return s, nil
	}

	v, err, _ := m.opening.Do(roomID, func() (interface{}, error) {
		if s, ok := m.Lookup(roomID); ok {
			return s, nil
		}

		registered, err := m.Registry.Has(ctx, roomID)
		if err != nil {
			return nil, fmt.Errorf("check registration of %s: %w", roomID, err)
		}
		if !registered {
			return nil, ErrRoomNotRegistered
		}

		s, err := newSession(context.WithoutCancel(ctx), roomID, m.Storage, m.opts, m.forget)
		if err != nil {
			return nil, fmt.Errorf("start session for %s: %w", roomID, err)
		}

		m.mu.Lock()
		m.sessions[roomID] = s
		m.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Join opens the room and attaches c to it. A session that stops between
// lookup and attach is replaced.
func (m *ManagerService) Join(ctx context.Context, roomID string, c Client) (*Session, error) {
	var joined *Session
	err := m.withSession(ctx, roomID, func(s *Session) error {
		if err := s.Attach(c); err != nil {
			return err
		}
		joined = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return joined, nil
}

// DeleteUser removes every message of user in roomID through the room's
// session, starting it if needed, so connected clients are resynced.
func (m *ManagerService) DeleteUser(ctx context.Context, roomID, user string) (int, error) {
	var n int
	err := m.withSession(ctx, roomID, func(s *Session) error {
		var err error
		n, err = s.DeleteUser(user)
		return err
	})
	return n, err
}

// Messages returns the message list of roomID as its session holds it.
func (m *ManagerService) Messages(ctx context.Context, roomID string) ([]models.ChatMessage, error) {
	var msgs []models.ChatMessage
	err := m.withSession(ctx, roomID, func(s *Session) error {
		var err error
		msgs, err = s.Messages()
		return err
	})
	return msgs, err
}

// withSession runs fn against the room's session, retrying on a fresh one
// when the session stopped underneath it.
func (m *ManagerService) withSession(ctx context.Context, roomID string, fn func(*Session) error) error {
	for attempt := 0; attempt < 3; attempt++ {
		s, err := m.Open(ctx, roomID)
		if err != nil {
			return err
		}
		err = fn(s)
		if errors.Is(err, ErrSessionClosed) {
			m.forget(s)
			continue
		}
		return err
	}
	return ErrSessionClosed
}

func (m *ManagerService) forget(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[s.roomID] == s {
		delete(m.sessions, s.roomID)
	}
}

// RoomStats returns live statistics for roomID. The bool is false when no
// session is running for it.
func (m *ManagerService) RoomStats(roomID string) (models.RoomStats, bool, error) {
	s, ok := m.Lookup(roomID)
	if !ok {
		return models.RoomStats{}, false, nil
	}
	stats, err := s.Stats()
	if errors.Is(err, ErrSessionClosed) {
		return models.RoomStats{}, false, nil
	}
	return stats, err == nil, err
}

// ActiveRooms lists rooms with a running session.
func (m *ManagerService) ActiveRooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	rooms := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		rooms = append(rooms, id)
	}
	sort.Strings(rooms)
	return rooms
}

// Shutdown stops every session.
func (m *ManagerService) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	log.L().Info().Int("sessions", len(sessions)).Msg("room sessions stopped")
}
