package signal

import (
	"sync"
	"time"

	"github.com/dkeye/Meet/internal/domain"
)

// RoomRateLimiter is a sliding-window limit on join attempts per participant.
type RoomRateLimiter struct {
	mu       sync.Mutex
	history  map[domain.ParticipantID][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewRoomRateLimiter(limit int, interval time.Duration) *RoomRateLimiter {
	return &RoomRateLimiter{
		history:  make(map[domain.ParticipantID][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *RoomRateLimiter) Allow(p domain.ParticipantID) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	fresh := prune(rl.history[p], windowStart)
	if len(fresh) >= rl.limit {
		rl.history[p] = fresh
		return false
	}
	rl.history[p] = append(fresh, now)

	if len(rl.history) > 4096 {
		rl.sweep(windowStart)
	}
	return true
}

func (rl *RoomRateLimiter) sweep(windowStart time.Time) {
	for p, attempts := range rl.history {
		if fresh := prune(attempts, windowStart); len(fresh) == 0 {
			delete(rl.history, p)
		} else {
			rl.history[p] = fresh
		}
	}
}

func prune(attempts []time.Time, windowStart time.Time) []time.Time {
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	return fresh
}
