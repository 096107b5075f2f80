package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/tripsync/internal/core"
	"github.com/dkeye/tripsync/internal/domain"
	"github.com/dkeye/tripsync/internal/protocol"
	"github.com/rs/zerolog/log"
)

const maxJoinAttempts = 3

// Join adds the session's user to its credential room and relays the join event.
// A repeated join (reconnect on the same socket) is relayed again so peers refresh the roster.
func (o *Orchestrator) Join(ctx context.Context, sid core.SessionID, env protocol.Envelope) error {
	roomID, sess, ok := o.Registry.CredentialRoom(sid)
	if !ok {
		return ErrNotBound
	}
	room, err := o.joinLive(ctx, sid, sess, roomID)
	if err != nil {
		return err
	}
	o.Registry.MarkJoined(sid, true)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Msg("added to room")
	o.publish(room, sid, env)
	return nil
}

// joinLive adds the member to the room that is live after the add. A room unloaded
// between lookup and add is dropped and the room is loaded again.
func (o *Orchestrator) joinLive(ctx context.Context, sid core.SessionID, sess core.MemberSession, roomID domain.RoomID) (core.RoomService, error) {
	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		room, err := o.Rooms.GetOrLoad(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if err := room.AddMember(sid, sess, o.clock().Now()); err != nil {
			return nil, err
		}
		if live, ok := o.Rooms.Get(roomID); ok && live == room {
			return room, nil
		}
		room.RemoveMember(sid, o.clock().Now())
	}
	return nil, fmt.Errorf("join room %s: room unloaded during join", roomID)
}

// Leave removes the member and relays the leave event. The connection stays open.
func (o *Orchestrator) Leave(ctx context.Context, sid core.SessionID, env protocol.Envelope) error {
	roomID, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return nil
	}
	o.leaveRoom(ctx, sid, roomID, env)
	return nil
}

func (o *Orchestrator) leaveRoom(ctx context.Context, sid core.SessionID, roomID domain.RoomID, env protocol.Envelope) {
	o.Registry.MarkJoined(sid, false)
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return
	}
	if _, removed := room.RemoveMember(sid, o.clock().Now()); !removed {
		return
	}
	o.publish(room, sid, env)
	if room.MemberCount() == 0 {
		if _, err := o.Rooms.ReleaseIfEmpty(ctx, roomID); err != nil {
			log.Error().Err(err).Str("module", "orch").Str("room", string(roomID)).Msg("release empty room")
		}
	}
}

// Sync answers a sync_request with the authoritative snapshot.
func (o *Orchestrator) Sync(sid core.SessionID) error {
	roomID, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return ErrNotJoined
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return ErrNotJoined
	}
	env, err := protocol.New(protocol.Origin{RoomID: roomID}, protocol.SyncResponsePayload{
		Room:     room.Room(),
		Presence: room.Presence(),
	}, o.clock().Now())
	if err != nil {
		return err
	}
	return o.sendTo(sid, env)
}

// OnDisconnect is called when the transport is gone. If the client did not leave
// explicitly, peers get a leave on its behalf.
func (o *Orchestrator) OnDisconnect(ctx context.Context, sid core.SessionID) {
	if roomID, sess, ok := o.Registry.RoomOf(sid); ok {
		u := sess.Meta()
		env, err := protocol.New(protocol.Origin{RoomID: roomID, UserID: u.ID, UserName: u.DisplayName}, protocol.LeavePayload{}, o.clock().Now())
		if err == nil {
			o.leaveRoom(ctx, sid, roomID, env)
		}
	}
	o.Registry.Unbind(sid)
}

// KickBySID drops membership and cancels the connection.
func (o *Orchestrator) KickBySID(sid core.SessionID) {
	if roomID, _, ok := o.Registry.RoomOf(sid); ok {
		if room, ok := o.Rooms.Get(roomID); ok {
			room.RemoveMember(sid, o.clock().Now())
		}
		o.Registry.MarkJoined(sid, false)
	}
	o.Registry.Cancel(sid)
}

// SweepPresence demotes stale participants and broadcasts their new status.
func (o *Orchestrator) SweepPresence() int {
	now := o.clock().Now()
	total := 0
	for _, room := range o.Rooms.Rooms() {
		for _, p := range room.SweepPresence(now) {
			env, err := protocol.New(protocol.Origin{RoomID: room.ID(), UserID: p.UserID, UserName: p.DisplayName},
				protocol.PresencePayload{Status: p.Status}, now)
			if err != nil {
				continue
			}
			o.publish(room, "", env)
			total++
		}
	}
	return total
}

// EvictRoom disconnects everyone and unloads the room.
func (o *Orchestrator) EvictRoom(ctx context.Context, id domain.RoomID) error {
	for _, snap := range o.Registry.MembersOfRoom(id) {
		o.KickBySID(snap.SID)
	}
	return o.Rooms.StopRoom(ctx, id)
}
