package core

import (
	"sort"
	"time"

	"github.com/dkeye/tripsync/internal/domain"
)

const (
	DefaultIdleAfter       = 60 * time.Second
	DefaultLivenessTimeout = 90 * time.Second
)

// PresenceTracker classifies participants from heartbeat recency. Not safe for
// concurrent use; the owning room serializes access.
type PresenceTracker struct {
	idleAfter time.Duration
	timeout   time.Duration
	entries   map[domain.UserID]*domain.Presence
}

func NewPresenceTracker(idleAfter, timeout time.Duration) *PresenceTracker {
	if idleAfter <= 0 {
		idleAfter = DefaultIdleAfter
	}
	if timeout <= idleAfter {
		timeout = idleAfter + DefaultLivenessTimeout - DefaultIdleAfter
	}
	return &PresenceTracker{
		idleAfter: idleAfter,
		timeout:   timeout,
		entries:   make(map[domain.UserID]*domain.Presence),
	}
}

// Set records an explicit status and refreshes last-seen.
func (t *PresenceTracker) Set(uid domain.UserID, name string, status domain.PresenceStatus, now time.Time) domain.Presence {
	p, ok := t.entries[uid]
	if !ok {
		p = &domain.Presence{UserID: uid}
		t.entries[uid] = p
	}
	if name != "" {
		p.DisplayName = name
	}
	p.Status = status
	p.LastSeen = now
	return *p
}

// Touch refreshes last-seen without changing an explicit status, except that
// an offline participant who shows activity becomes active again.
func (t *PresenceTracker) Touch(uid domain.UserID, now time.Time) {
	p, ok := t.entries[uid]
	if !ok {
		return
	}
	p.LastSeen = now
	if p.Status == domain.PresenceOffline {
		p.Status = domain.PresenceActive
	}
}

func (t *PresenceTracker) Get(uid domain.UserID) (domain.Presence, bool) {
	p, ok := t.entries[uid]
	if !ok {
		return domain.Presence{}, false
	}
	return *p, true
}

// Sweep demotes active entries to idle and stale entries to offline. It returns the changed entries.
func (t *PresenceTracker) Sweep(now time.Time) []domain.Presence {
	var changed []domain.Presence
	for _, p := range t.entries {
		elapsed := now.Sub(p.LastSeen)
		switch {
		case elapsed >= t.timeout && p.Status != domain.PresenceOffline:
			p.Status = domain.PresenceOffline
		case elapsed >= t.idleAfter && p.Status == domain.PresenceActive:
			p.Status = domain.PresenceIdle
		default:
			continue
		}
		changed = append(changed, *p)
	}
	sortPresence(changed)
	return changed
}

func (t *PresenceTracker) Snapshot() []domain.Presence {
	out := make([]domain.Presence, 0, len(t.entries))
	for _, p := range t.entries {
		out = append(out, *p)
	}
	sortPresence(out)
	return out
}

func sortPresence(ps []domain.Presence) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].UserID < ps[j].UserID })
}
