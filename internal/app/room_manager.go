package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/tripsync/internal/core"
	"github.com/dkeye/tripsync/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrRoomInactive = errors.New("room is not active")

// RoomManager keeps live rooms in memory, loading them from the repository on first use.
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]core.RoomService
	repo  core.RoomRepository
	// loadMu orders repository loads against releases so a load never reads a
	// copy older than the last release wrote.
	loadMu sync.Mutex

	idleAfter time.Duration
	timeout   time.Duration
}

func NewRoomManager(repo core.RoomRepository, idleAfter, timeout time.Duration) *RoomManager {
	return &RoomManager{
		rooms:     make(map[domain.RoomID]core.RoomService),
		repo:      repo,
		idleAfter: idleAfter,
		timeout:   timeout,
	}
}

func (m *RoomManager) Get(id domain.RoomID) (core.RoomService, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[id]
	return room, ok
}

// GetOrLoad returns the live room, loading it from storage. Cancelled and completed
// rooms are refused.
func (m *RoomManager) GetOrLoad(ctx context.Context, id domain.RoomID) (core.RoomService, error) {
	if room, ok := m.Get(id); ok {
		if !room.Room().Active() {
			return nil, ErrRoomInactive
		}
		return room, nil
	}

	m.loadMu.Lock()
	defer m.loadMu.Unlock()
	if room, ok := m.Get(id); ok {
		return room, nil
	}
	stored, err := m.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", id, err)
	}
	if !stored.Active() {
		return nil, ErrRoomInactive
	}

	room := core.NewRoomService(stored, core.NewPresenceTracker(m.idleAfter, m.timeout))
	m.mu.Lock()
	m.rooms[id] = room
	m.mu.Unlock()
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room loaded")
	return room, nil
}

// Admit checks that a room exists and is active without loading it.
func (m *RoomManager) Admit(ctx context.Context, id domain.RoomID) error {
	if room, ok := m.Get(id); ok {
		if !room.Room().Active() {
			return ErrRoomInactive
		}
		return nil
	}
	stored, err := m.repo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("admit room %s: %w", id, err)
	}
	if !stored.Active() {
		return ErrRoomInactive
	}
	return nil
}

func (m *RoomManager) List() []core.RoomInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(m.rooms))
	for id, r := range m.rooms {
		out = append(out, core.RoomInfo{ID: id, Name: r.Room().Name, MemberCount: r.MemberCount()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *RoomManager) Rooms() []core.RoomService {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.RoomService, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	return out
}

// Flush writes unsaved ledger changes back to the repository.
func (m *RoomManager) Flush(ctx context.Context, id domain.RoomID) error {
	room, ok := m.Get(id)
	if !ok {
		return nil
	}
	return m.save(ctx, room)
}

func (m *RoomManager) save(ctx context.Context, room core.RoomService) error {
	if !room.Dirty() {
		return nil
	}
	if err := m.repo.Save(ctx, room.Room()); err != nil {
		return fmt.Errorf("save room %s: %w", room.ID(), err)
	}
	room.MarkClean()
	log.Debug().Str("module", "app.rooms").Str("room", string(room.ID())).Msg("room flushed")
	return nil
}

// ReleaseIfEmpty persists and unloads the live room once it has no members.
// It reports whether the room was unloaded. On a failed save the room stays loaded.
func (m *RoomManager) ReleaseIfEmpty(ctx context.Context, id domain.RoomID) (bool, error) {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()
	room, ok := m.Get(id)
	if !ok || room.MemberCount() > 0 {
		return false, nil
	}
	if err := m.save(ctx, room); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rooms[id] != room || room.MemberCount() > 0 {
		return false, nil
	}
	delete(m.rooms, id)
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room unloaded")
	return true, nil
}

func (m *RoomManager) FlushAll(ctx context.Context) error {
	var errs []error
	for _, r := range m.Rooms() {
		if err := m.Flush(ctx, r.ID()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StopRoom flushes and forgets the live room.
func (m *RoomManager) StopRoom(ctx context.Context, id domain.RoomID) error {
	err := m.Flush(ctx, id)
	m.mu.Lock()
	delete(m.rooms, id)
	m.mu.Unlock()
	return err
}
