package core

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/tripsync/internal/domain"
	"github.com/dkeye/tripsync/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSignal struct {
	mu     sync.Mutex
	frames []Frame
	full   bool
}

func (f *fakeSignal) TrySend(fr Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return errors.New("backpressure")
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeSignal) Close() {}

func (f *fakeSignal) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func ownedRoom() *domain.Room {
	return &domain.Room{
		ID:              "room_x",
		Status:          domain.StatusPlanning,
		MaxParticipants: 10,
		OwnerID:         "a",
		Participants:    []domain.Participant{{UserID: "a", DisplayName: "Ayla", Role: domain.RoleOwner}},
	}
}

func event(t *testing.T, uid domain.UserID, p protocol.Payload) protocol.Envelope {
	t.Helper()
	env, err := protocol.New(protocol.Origin{RoomID: "room_x", UserID: uid, UserName: string(uid)}, p, now)
	require.NoError(t, err)
	return env
}

func TestAddMemberRestoresRosterWithoutDuplicates(t *testing.T) {
	rs := NewRoomService(ownedRoom(), nil)
	b := &domain.User{ID: "b", DisplayName: "Bora"}

	require.NoError(t, rs.AddMember("s1", NewMemberSession(b, &fakeSignal{}), now))
	_, ok := rs.RemoveMember("s1", now)
	require.True(t, ok)
	require.NoError(t, rs.AddMember("s2", NewMemberSession(b, &fakeSignal{}), now))

	room := rs.Room()
	assert.Len(t, room.Participants, 2)
	p, ok := room.Participant("b")
	require.True(t, ok)
	assert.Equal(t, domain.RoleEditor, p.Role)
	assert.Equal(t, 1, rs.MemberCount())
	assert.True(t, rs.Dirty())
}

func TestReconnectUnderNewSessionReplacesOld(t *testing.T) {
	rs := NewRoomService(ownedRoom(), nil)
	b := &domain.User{ID: "b", DisplayName: "Bora"}
	require.NoError(t, rs.AddMember("s1", NewMemberSession(b, &fakeSignal{}), now))
	require.NoError(t, rs.AddMember("s2", NewMemberSession(b, &fakeSignal{}), now))
	assert.Equal(t, 1, rs.MemberCount())

	// the stale session going away must not mark the user offline
	_, ok := rs.RemoveMember("s1", now)
	assert.False(t, ok)
	members := rs.MembersSnapshot()
	require.Len(t, members, 1)
	assert.Equal(t, domain.PresenceActive, members[0].Status)
}

func TestBroadcastSkipsSenderAndReportsDropped(t *testing.T) {
	rs := NewRoomService(ownedRoom(), nil)
	a, b, c := &fakeSignal{}, &fakeSignal{}, &fakeSignal{full: true}
	require.NoError(t, rs.AddMember("sa", NewMemberSession(&domain.User{ID: "a"}, a), now))
	require.NoError(t, rs.AddMember("sb", NewMemberSession(&domain.User{ID: "b"}, b), now))
	require.NoError(t, rs.AddMember("sc", NewMemberSession(&domain.User{ID: "c"}, c), now))

	res := rs.Broadcast("sa", Frame("hi"))
	assert.Equal(t, 1, res.SendTo)
	assert.Len(t, res.Dropped, 1)
	assert.Equal(t, 0, a.count())
	assert.Equal(t, 1, b.count())
}

func TestApplyVoteUpsertAndDedupe(t *testing.T) {
	rs := NewRoomService(ownedRoom(), nil)
	require.NoError(t, rs.AddMember("sb", NewMemberSession(&domain.User{ID: "b"}, &fakeSignal{}), now))

	up := event(t, "b", protocol.VotePayload{ActivityID: "act_1", VoteType: domain.VoteUp})
	applied, err := rs.Apply(up, now)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = rs.Apply(up, now)
	require.NoError(t, err)
	assert.False(t, applied, "replayed event id is ignored")

	down := event(t, "b", protocol.VotePayload{ActivityID: "act_1", VoteType: domain.VoteDown})
	down.Timestamp = now.Add(time.Second)
	_, err = rs.Apply(down, now)
	require.NoError(t, err)

	room := rs.Room()
	assert.Len(t, room.Votes, 2)
	v, ok := room.CurrentVote("b", "act_1")
	require.True(t, ok)
	assert.Equal(t, domain.VoteDown, v.Kind)
}

func TestApplyRejectsForeignRoomAndNonMembers(t *testing.T) {
	rs := NewRoomService(ownedRoom(), nil)

	env := event(t, "a", protocol.ChatPayload{Message: "hi"})
	env.RoomID = "room_other"
	_, err := rs.Apply(env, now)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = rs.Apply(event(t, "stranger", protocol.VotePayload{ActivityID: "x", VoteType: domain.VoteUp}), now)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestApplyUpdateStatusNeedsOwner(t *testing.T) {
	rs := NewRoomService(ownedRoom(), nil)
	require.NoError(t, rs.AddMember("sb", NewMemberSession(&domain.User{ID: "b"}, &fakeSignal{}), now))

	_, err := rs.Apply(event(t, "b", protocol.UpdatePayload{Status: domain.StatusConfirmed}), now)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = rs.Apply(event(t, "a", protocol.UpdatePayload{
		Status:    domain.StatusConfirmed,
		Itinerary: []domain.ItineraryItem{{ActivityID: "act_1", Position: 1}},
	}), now)
	require.NoError(t, err)
	room := rs.Room()
	assert.Equal(t, domain.StatusConfirmed, room.Status)
	require.Len(t, room.Itinerary, 1)
}

func TestApplyCommentUsesEventID(t *testing.T) {
	rs := NewRoomService(ownedRoom(), nil)
	env := event(t, "a", protocol.CommentPayload{Content: "Ferry at 9?", ActivityID: "act_1"})
	_, err := rs.Apply(env, now)
	require.NoError(t, err)

	room := rs.Room()
	require.Len(t, room.Comments, 1)
	assert.Equal(t, env.ID, room.Comments[0].ID)
	assert.Equal(t, "act_1", room.Comments[0].ActivityID)
}

func TestPresenceSweep(t *testing.T) {
	tr := NewPresenceTracker(time.Minute, 90*time.Second)
	tr.Set("a", "Ayla", domain.PresenceActive, now)
	tr.Set("b", "Bora", domain.PresenceActive, now)

	assert.Empty(t, tr.Sweep(now.Add(30*time.Second)))

	tr.Touch("b", now.Add(50*time.Second))
	changed := tr.Sweep(now.Add(61 * time.Second))
	require.Len(t, changed, 1)
	assert.Equal(t, domain.UserID("a"), changed[0].UserID)
	assert.Equal(t, domain.PresenceIdle, changed[0].Status)

	changed = tr.Sweep(now.Add(2 * time.Minute))
	require.Len(t, changed, 2)
	assert.Equal(t, domain.PresenceOffline, changed[0].Status)
	assert.Equal(t, domain.PresenceIdle, changed[1].Status)

	tr.Touch("a", now.Add(3*time.Minute))
	p, _ := tr.Get("a")
	assert.Equal(t, domain.PresenceActive, p.Status)
}
