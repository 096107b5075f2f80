// Package memory is the in-process room and user store used in development and tests.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/dkeye/tripsync/internal/core"
	"github.com/dkeye/tripsync/internal/domain"
)

type Store struct {
	mu     sync.RWMutex
	rooms  map[domain.RoomID]*domain.Room
	codes  map[string]domain.RoomID
	users  map[domain.UserID]*domain.User
	writes int
}

var (
	_ core.RoomRepository = (*Store)(nil)
	_ core.UserDirectory  = (*Store)(nil)
)

func New() *Store {
	return &Store{
		rooms: make(map[domain.RoomID]*domain.Room),
		codes: make(map[string]domain.RoomID),
		users: make(map[domain.UserID]*domain.User),
	}
}

func (s *Store) Create(_ context.Context, room *domain.Room) (*domain.Room, error) {
	code := strings.ToUpper(room.JoinCode)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[code]; ok {
		return nil, domain.ErrDuplicateJoinCode
	}
	stored := room.Clone()
	stored.JoinCode = code
	s.rooms[room.ID] = stored
	s.codes[code] = room.ID
	s.writes++
	return stored.Clone(), nil
}

func (s *Store) FindByID(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.Clone(), nil
}

func (s *Store) FindByJoinCode(ctx context.Context, code string) (*domain.Room, error) {
	s.mu.RLock()
	id, ok := s.codes[strings.ToUpper(code)]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.FindByID(ctx, id)
}

func (s *Store) JoinCodeExists(_ context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.codes[strings.ToUpper(code)]
	return ok, nil
}

func (s *Store) Save(_ context.Context, room *domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room.ID]; !ok {
		return domain.ErrNotFound
	}
	s.rooms[room.ID] = room.Clone()
	s.writes++
	return nil
}

// Writes counts durable writes; tests use it to assert no partial persistence.
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func (s *Store) CreateUser(_ context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *Store) LookupUser(_ context.Context, id domain.UserID) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}
