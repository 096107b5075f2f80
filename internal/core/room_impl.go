package core

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/tripsync/internal/domain"
	"github.com/dkeye/tripsync/internal/protocol"
	"github.com/rs/zerolog/log"
)

// seenWindow bounds the event ids remembered for de-duplication.
const seenWindow = 4096

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	mu       sync.RWMutex
	room     *domain.Room
	bySID    map[SessionID]MemberSession
	byUser   map[domain.UserID]SessionID
	presence *PresenceTracker

	seen      map[string]struct{}
	seenOrder []string
	dirty     bool
}

func NewRoomService(room *domain.Room, presence *PresenceTracker) RoomService {
	if presence == nil {
		presence = NewPresenceTracker(DefaultIdleAfter, DefaultLivenessTimeout)
	}
	return &roomImpl{
		room:     room,
		bySID:    make(map[SessionID]MemberSession),
		byUser:   make(map[domain.UserID]SessionID),
		presence: presence,
		seen:     make(map[string]struct{}),
	}
}

func (r *roomImpl) ID() domain.RoomID { return r.room.ID }

func (r *roomImpl) Room() *domain.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.room.Clone()
}

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

// AddMember restores the user to the roster (as editor if new) and marks them active.
// A user reconnecting under a new session replaces the old mapping.
func (r *roomImpl) AddMember(sid SessionID, ms MemberSession, now time.Time) error {
	u := ms.Meta()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.room.Participant(u.ID); !ok {
		err := r.room.AddParticipant(domain.Participant{
			UserID:      u.ID,
			DisplayName: u.DisplayName,
			Role:        domain.RoleEditor,
			JoinedAt:    now,
		})
		if err != nil {
			return err
		}
		r.dirty = true
	}
	if old, ok := r.byUser[u.ID]; ok && old != sid {
		delete(r.bySID, old)
	}
	r.bySID[sid] = ms
	r.byUser[u.ID] = sid
	r.presence.Set(u.ID, u.DisplayName, domain.PresenceActive, now)
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("sid", string(sid)).Str("user", string(u.ID)).Msg("member added")
	return nil
}

// RemoveMember drops the live session; the roster entry stays and presence goes offline.
func (r *roomImpl) RemoveMember(sid SessionID, now time.Time) (domain.UserID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms, ok := r.bySID[sid]
	if !ok {
		return "", false
	}
	u := ms.Meta().ID
	delete(r.bySID, sid)
	if r.byUser[u] == sid {
		delete(r.byUser, u)
		r.presence.Set(u, "", domain.PresenceOffline, now)
	}
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("sid", string(sid)).Msg("member removed")
	return u, true
}

func (r *roomImpl) Broadcast(from SessionID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for sid, m := range r.bySID {
		if sid == from {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) MembersSnapshot() []MemberDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MemberDTO, 0, len(r.bySID))
	for _, ms := range r.bySID {
		u := ms.Meta()
		dto := MemberDTO{ID: u.ID, DisplayName: u.DisplayName, Status: domain.PresenceOffline}
		if p, ok := r.presence.Get(u.ID); ok {
			dto.Status = p.Status
		}
		out = append(out, dto)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *roomImpl) Presence() []domain.Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.presence.Snapshot()
}

func (r *roomImpl) SweepPresence(now time.Time) []domain.Presence {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presence.Sweep(now)
}

func (r *roomImpl) Apply(env protocol.Envelope, now time.Time) (bool, error) {
	if env.RoomID != r.room.ID {
		return false, fmt.Errorf("event for room %q applied to %q: %w", env.RoomID, r.room.ID, domain.ErrNotFound)
	}
	p, err := env.Decode()
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if env.ID != "" {
		if _, dup := r.seen[env.ID]; dup {
			return false, nil
		}
	}

	part, isMember := r.room.Participant(env.UserID)
	if !isMember && env.Type.StateChanging() {
		return false, domain.ErrForbidden
	}

	switch v := p.(type) {
	case protocol.UpdatePayload:
		if part.Role == domain.RoleViewer {
			return false, domain.ErrForbidden
		}
		if v.Status != "" {
			if part.Role != domain.RoleOwner {
				return false, domain.ErrForbidden
			}
			if err := r.room.Transition(v.Status); err != nil {
				return false, err
			}
		}
		r.room.UpsertItinerary(v.Itinerary...)
		r.dirty = true
	case protocol.CommentPayload:
		if v.Content == "" {
			return false, fmt.Errorf("empty comment: %w", domain.ErrForbidden)
		}
		r.room.AddComment(domain.Comment{
			ID:         env.ID,
			UserID:     env.UserID,
			Content:    v.Content,
			ActivityID: v.ActivityID,
			ParentID:   v.ParentID,
			Timestamp:  env.Timestamp,
		})
		r.dirty = true
	case protocol.VotePayload:
		if part.Role == domain.RoleViewer {
			return false, domain.ErrForbidden
		}
		err := r.room.CastVote(domain.Vote{
			UserID:     env.UserID,
			ActivityID: v.ActivityID,
			Kind:       v.VoteType,
			Timestamp:  env.Timestamp,
		})
		if err != nil {
			return false, err
		}
		r.dirty = true
	case protocol.PresencePayload:
		if _, err := domain.ParsePresenceStatus(string(v.Status)); err != nil {
			return false, err
		}
		r.presence.Set(env.UserID, env.UserName, v.Status, now)
	}
	if env.Type != protocol.KindPresence {
		r.presence.Touch(env.UserID, now)
	}
	if env.Type.StateChanging() {
		r.room.UpdatedAt = now
	}
	r.remember(env.ID)
	return true, nil
}

func (r *roomImpl) remember(id string) {
	if id == "" {
		return
	}
	r.seen[id] = struct{}{}
	r.seenOrder = append(r.seenOrder, id)
	if len(r.seenOrder) > seenWindow {
		delete(r.seen, r.seenOrder[0])
		r.seenOrder = r.seenOrder[1:]
	}
}

func (r *roomImpl) Dirty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dirty
}

func (r *roomImpl) MarkClean() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirty = false
}
