package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/tripsync/internal/app"
	"github.com/dkeye/tripsync/internal/core"
	"github.com/dkeye/tripsync/internal/domain"
	"github.com/dkeye/tripsync/internal/protocol"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotBound      = errors.New("session not bound")
	ErrNotJoined     = errors.New("session has not joined")
	ErrOriginInvalid = errors.New("event origin does not match session credentials")
	ErrRateLimited   = errors.New("rate limited")
)

// Orchestrator is the broker: it arbitrates room membership and fans events out.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    *app.RoomManager
	Policy   app.Policy
	Clock    clockwork.Clock
}

func (o *Orchestrator) clock() clockwork.Clock {
	if o.Clock == nil {
		return clockwork.NewRealClock()
	}
	return o.Clock
}

// OnEvent routes one inbound envelope from sid. Events whose room or user differ from the
// connection credentials are discarded.
func (o *Orchestrator) OnEvent(ctx context.Context, sid core.SessionID, env protocol.Envelope) error {
	roomID, sess, ok := o.Registry.CredentialRoom(sid)
	if !ok {
		return ErrNotBound
	}
	if env.RoomID != roomID || env.UserID != sess.Meta().ID {
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("room", string(env.RoomID)).Msg("discarding event with foreign origin")
		return ErrOriginInvalid
	}

	switch env.Type {
	case protocol.KindJoin:
		return o.Join(ctx, sid, env)
	case protocol.KindLeave:
		return o.Leave(ctx, sid, env)
	case protocol.KindSyncRequest:
		return o.Sync(sid)
	case protocol.KindSyncResponse, protocol.KindError:
		return fmt.Errorf("%w: %s is server-only", protocol.ErrUnknownKind, env.Type)
	}

	if _, _, joined := o.Registry.RoomOf(sid); !joined {
		return ErrNotJoined
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return app.ErrRoomInactive
	}
	applied, err := room.Apply(env, o.clock().Now())
	if err != nil {
		return err
	}
	if !applied {
		log.Debug().Str("module", "orch").Str("event", env.ID).Msg("duplicate event ignored")
		return nil
	}
	o.publish(room, sid, env)
	return nil
}

// publish fans env out to everyone in the room except from and applies the backpressure policy.
func (o *Orchestrator) publish(room core.RoomService, from core.SessionID, env protocol.Envelope) {
	data, err := protocol.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("marshal envelope")
		return
	}
	res := room.Broadcast(from, data)
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			for _, snap := range o.Registry.MembersOfRoom(room.ID()) {
				if snap.Session == slow {
					o.KickBySID(snap.SID)
				}
			}
		case app.MarkSlow, app.DropFrame, app.NoAction:
		}
	}
}

// sendTo delivers env to exactly one session.
func (o *Orchestrator) sendTo(sid core.SessionID, env protocol.Envelope) error {
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return ErrNotBound
	}
	data, err := protocol.Marshal(env)
	if err != nil {
		return err
	}
	return sess.Signal().TrySend(data)
}

// SendError reports a rejected event back to its sender.
func (o *Orchestrator) SendError(sid core.SessionID, cause error) {
	roomID, _, _ := o.Registry.CredentialRoom(sid)
	env, err := protocol.New(protocol.Origin{RoomID: roomID}, protocol.ErrorPayload{
		Code:    errorCode(cause),
		Message: cause.Error(),
	}, o.clock().Now())
	if err != nil {
		return
	}
	_ = o.sendTo(sid, env)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrRoomFull):
		return "room_full"
	case errors.Is(err, ErrOriginInvalid), errors.Is(err, domain.ErrNotFound):
		return "room_mismatch"
	case errors.Is(err, app.ErrRoomInactive):
		return "room_inactive"
	case errors.Is(err, ErrNotJoined):
		return "not_joined"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	}
	return "bad_event"
}
