package app

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/tripsync/internal/core"
	"github.com/dkeye/tripsync/internal/domain"
	"github.com/dkeye/tripsync/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopSignal struct{}

func (nopSignal) TrySend(core.Frame) error { return nil }
func (nopSignal) Close()                   {}

func seed(t *testing.T, status domain.RoomStatus) *memory.Store {
	t.Helper()
	s := memory.New()
	_, err := s.Create(context.Background(), &domain.Room{ID: "room_x", Name: "Aegean Trip", JoinCode: "AAAAAA", Status: status, MaxParticipants: 10})
	require.NoError(t, err)
	return s
}

func TestRoomManagerLoadsOnceAndFlushes(t *testing.T) {
	ctx := context.Background()
	store := seed(t, domain.StatusPlanning)
	m := NewRoomManager(store, time.Minute, 90*time.Second)

	r1, err := m.GetOrLoad(ctx, "room_x")
	require.NoError(t, err)
	r2, err := m.GetOrLoad(ctx, "room_x")
	require.NoError(t, err)
	assert.Same(t, r1, r2)

	require.NoError(t, r1.AddMember("s1", core.NewMemberSession(&domain.User{ID: "b", DisplayName: "Bora"}, nopSignal{}), time.Now()))
	assert.Equal(t, []core.RoomInfo{{ID: "room_x", Name: "Aegean Trip", MemberCount: 1}}, m.List())

	writes := store.Writes()
	require.NoError(t, m.FlushAll(ctx))
	assert.Equal(t, writes+1, store.Writes())
	require.NoError(t, m.Flush(ctx, "room_x"))
	assert.Equal(t, writes+1, store.Writes(), "clean rooms are not rewritten")

	stored, err := store.FindByID(ctx, "room_x")
	require.NoError(t, err)
	assert.Len(t, stored.Participants, 1)

	require.NoError(t, m.StopRoom(ctx, "room_x"))
	_, ok := m.Get("room_x")
	assert.False(t, ok)
}

func TestReleaseIfEmptyUnloadsOnlyEmptyRooms(t *testing.T) {
	ctx := context.Background()
	store := seed(t, domain.StatusPlanning)
	m := NewRoomManager(store, time.Minute, 90*time.Second)

	released, err := m.ReleaseIfEmpty(ctx, "room_x")
	require.NoError(t, err)
	assert.False(t, released, "nothing loaded")

	room, err := m.GetOrLoad(ctx, "room_x")
	require.NoError(t, err)
	require.NoError(t, room.AddMember("s1", core.NewMemberSession(&domain.User{ID: "b", DisplayName: "Bora"}, nopSignal{}), time.Now()))

	released, err = m.ReleaseIfEmpty(ctx, "room_x")
	require.NoError(t, err)
	assert.False(t, released, "room still has a member")

	room.RemoveMember("s1", time.Now())
	released, err = m.ReleaseIfEmpty(ctx, "room_x")
	require.NoError(t, err)
	assert.True(t, released)
	assert.Empty(t, m.Rooms())

	stored, err := store.FindByID(ctx, "room_x")
	require.NoError(t, err)
	_, ok := stored.Participant("b")
	assert.True(t, ok, "roster saved before unloading")
}

func TestRoomManagerRefusesUnknownAndInactive(t *testing.T) {
	ctx := context.Background()

	m := NewRoomManager(seed(t, domain.StatusCancelled), time.Minute, 90*time.Second)
	_, err := m.GetOrLoad(ctx, "room_x")
	assert.ErrorIs(t, err, ErrRoomInactive)

	_, err = m.GetOrLoad(ctx, "room_missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, m.Admit(ctx, "room_x"), ErrRoomInactive)
	assert.ErrorIs(t, m.Admit(ctx, "room_missing"), domain.ErrNotFound)
	assert.Empty(t, m.Rooms(), "admission checks never load rooms")

	active := NewRoomManager(seed(t, domain.StatusPlanning), time.Minute, 90*time.Second)
	assert.NoError(t, active.Admit(ctx, "room_x"))
	assert.Empty(t, active.Rooms())
}

func TestRegistryMembership(t *testing.T) {
	r := NewRegistry()
	cancelled := false
	sess := core.NewMemberSession(&domain.User{ID: "a"}, nopSignal{})
	r.BindSignal("s1", "room_x", sess, func() { cancelled = true })

	_, _, joined := r.RoomOf("s1")
	assert.False(t, joined)
	roomID, _, ok := r.CredentialRoom("s1")
	require.True(t, ok)
	assert.Equal(t, domain.RoomID("room_x"), roomID)

	require.True(t, r.MarkJoined("s1", true))
	assert.Len(t, r.MembersOfRoom("room_x"), 1)

	assert.True(t, r.Cancel("s1"))
	assert.True(t, cancelled)
	r.Unbind("s1")
	assert.False(t, r.Cancel("s1"))
	assert.Empty(t, r.MembersOfRoom("room_x"))
}
