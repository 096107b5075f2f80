package session

import (
	"sort"
	"sync"

	"github.com/dkeye/tripsync/internal/domain"
	"github.com/dkeye/tripsync/internal/protocol"
)

// roster is the client's view of who is in the room and how present they are.
type roster struct {
	mu      sync.Mutex
	entries map[domain.UserID]domain.Presence
}

func newRoster() *roster {
	return &roster{entries: make(map[domain.UserID]domain.Presence)}
}

// apply folds env into the roster and reports whether anything changed.
func (r *roster) apply(env protocol.Envelope, p protocol.Payload) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch v := p.(type) {
	case protocol.JoinPayload:
		return r.setLocked(env.UserID, env.UserName, domain.PresenceActive, env)
	case protocol.LeavePayload:
		return r.setLocked(env.UserID, env.UserName, domain.PresenceOffline, env)
	case protocol.PresencePayload:
		return r.setLocked(env.UserID, env.UserName, v.Status, env)
	case protocol.SyncResponsePayload:
		r.entries = make(map[domain.UserID]domain.Presence, len(v.Presence))
		for _, pr := range v.Presence {
			r.entries[pr.UserID] = pr
		}
		return true
	}
	return false
}

func (r *roster) setLocked(uid domain.UserID, name string, st domain.PresenceStatus, env protocol.Envelope) bool {
	if uid == "" {
		return false
	}
	cur, ok := r.entries[uid]
	if name == "" {
		name = cur.DisplayName
	}
	next := domain.Presence{UserID: uid, DisplayName: name, Status: st, LastSeen: env.Timestamp}
	r.entries[uid] = next
	return !ok || cur.Status != st || cur.DisplayName != name
}

func (r *roster) snapshot() []domain.Presence {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Presence, 0, len(r.entries))
	for _, p := range r.entries {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (r *roster) reset() {
	r.mu.Lock()
	r.entries = make(map[domain.UserID]domain.Presence)
	r.mu.Unlock()
}
