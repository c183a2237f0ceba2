package router

import (
	"sync"
	"time"
)

// Timer is the part of *time.Timer the turn clock needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it once wrapped.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type armedTimer struct {
	timer Timer
	gen   uint64
}

// turnClock keeps at most one pending turn timeout per room. Every arm bumps a
// generation so a timer that fired while being replaced can tell it is stale.
type turnClock struct {
	mu     sync.Mutex
	after  AfterFunc
	gen    uint64
	timers map[string]armedTimer
}

func newTurnClock(after AfterFunc) *turnClock {
	if after == nil {
		after = realAfterFunc
	}
	return &turnClock{after: after, timers: make(map[string]armedTimer)}
}

// arm replaces the room's timer. fire receives the generation it was armed with.
func (c *turnClock) arm(roomID string, d time.Duration, fire func(gen uint64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.timers[roomID]; ok {
		t.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.timers[roomID] = armedTimer{
		timer: c.after(d, func() { fire(gen) }),
		gen:   gen,
	}
}

func (c *turnClock) disarm(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.timers[roomID]; ok {
		t.timer.Stop()
		delete(c.timers, roomID)
	}
}

// current reports whether gen is still the live timer of the room.
func (c *turnClock) current(roomID string, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.timers[roomID]
	return ok && t.gen == gen
}

func (c *turnClock) armed(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.timers[roomID]
	return ok
}

// stopAll cancels every pending timer.
func (c *turnClock) stopAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, t := range c.timers {
		t.timer.Stop()
		delete(c.timers, id)
	}
}
