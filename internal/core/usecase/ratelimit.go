package usecase

import (
	"context"
	"sync"
	"time"
)

const defaultLimiterWindow = time.Minute

type limiterSlot struct {
	id uint64
	at time.Time
}

// SlidingWindowLimiter admits at most maxCalls acquisitions per trailing
// window. Waiting never holds the lock, so only the caller blocks.
type SlidingWindowLimiter struct {
	mu       sync.Mutex
	maxCalls int
	window   time.Duration
	slots    []limiterSlot
	seq      uint64
	now      func() time.Time
}

func NewSlidingWindowLimiter(maxCalls int, window time.Duration) *SlidingWindowLimiter {
	if maxCalls <= 0 {
		maxCalls = 30
	}
	if window <= 0 {
		window = defaultLimiterWindow
	}
	return &SlidingWindowLimiter{
		maxCalls: maxCalls,
		window:   window,
		now:      time.Now,
	}
}

// Acquire blocks until a slot is free or ctx is done. The returned release
// withdraws the slot; call it only when the guarded call was abandoned.
func (l *SlidingWindowLimiter) Acquire(ctx context.Context) (release func(), waited time.Duration, err error) {
	for {
		l.mu.Lock()
		now := l.now()
		l.pruneLocked(now)
		if len(l.slots) < l.maxCalls {
			l.seq++
			id := l.seq
			l.slots = append(l.slots, limiterSlot{id: id, at: now})
			l.mu.Unlock()
			return func() { l.release(id) }, waited, nil
		}
		wait := l.slots[0].at.Add(l.window).Sub(now)
		l.mu.Unlock()

		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, waited, ctx.Err()
		case <-timer.C:
		}
		waited += wait
	}
}

// InWindow reports how many slots are held in the trailing window.
func (l *SlidingWindowLimiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.now())
	return len(l.slots)
}

func (l *SlidingWindowLimiter) pruneLocked(now time.Time) {
	drop := 0
	for drop < len(l.slots) && now.Sub(l.slots[drop].at) >= l.window {
		drop++
	}
	if drop > 0 {
		l.slots = append(l.slots[:0], l.slots[drop:]...)
	}
}

func (l *SlidingWindowLimiter) release(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, slot := range l.slots {
		if slot.id == id {
			l.slots = append(l.slots[:i], l.slots[i+1:]...)
			return
		}
	}
}
