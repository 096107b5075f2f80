package signal

import (
	"sync"
	"time"

	"github.com/dkeye/tripsync/internal/domain"
	"github.com/jonboulle/clockwork"
)

type limitKey struct {
	room domain.RoomID
	user domain.UserID
}

// RoomRateLimiter is a sliding-window limiter per participant and room.
type RoomRateLimiter struct {
	mu       sync.Mutex
	history  map[limitKey][]time.Time
	limit    int
	interval time.Duration
	clock    clockwork.Clock
	pruned   time.Time
}

func NewRoomRateLimiter(limit int, interval time.Duration, clock clockwork.Clock) *RoomRateLimiter {
	return &RoomRateLimiter{
		history:  make(map[limitKey][]time.Time),
		limit:    limit,
		interval: interval,
		clock:    clock,
	}
}

func (rl *RoomRateLimiter) Allow(room domain.RoomID, uid domain.UserID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	windowStart := now.Add(-rl.interval)
	key := limitKey{room: room, user: uid}
	if now.Sub(rl.pruned) >= rl.interval {
		rl.prune(windowStart)
		rl.pruned = now
	}

	attempts := rl.history[key]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= rl.limit {
		rl.history[key] = fresh
		return false
	}
	rl.history[key] = append(fresh, now)
	return true
}

// prune drops participants with no attempt inside the window.
func (rl *RoomRateLimiter) prune(windowStart time.Time) {
	for key, attempts := range rl.history {
		if len(attempts) == 0 || !attempts[len(attempts)-1].After(windowStart) {
			delete(rl.history, key)
		}
	}
}
