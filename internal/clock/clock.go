// Package clock maps wall time onto the integer week index used by the pool.
package clock

import (
	"sync"
	"time"
)

const WeekSeconds int64 = 7 * 24 * 60 * 60

// Clock reports the current week. The pool never reads wall time
// directly; every week-dependent operation goes through a Clock.
type Clock interface {
	CurrentWeek() int64
}

// WeekOf returns floor((unix + offset) / week).
func WeekOf(t time.Time, offset time.Duration) int64 {
	secs := t.Unix() + int64(offset/time.Second)
	week := secs / WeekSeconds
	if secs < 0 && secs%WeekSeconds != 0 {
		week--
	}
	return week
}

// WeekStart is the first instant of week under the given offset.
func WeekStart(week int64, offset time.Duration) time.Time {
	return time.Unix(week*WeekSeconds-int64(offset/time.Second), 0).UTC()
}

// WallClock derives the week from system time.
type WallClock struct {
	offset time.Duration
	now    func() time.Time
}

func NewWallClock(offset time.Duration) *WallClock {
	return &WallClock{offset: offset, now: time.Now}
}

func (c *WallClock) CurrentWeek() int64 {
	return WeekOf(c.now(), c.offset)
}

// Offset returns the configured week-boundary offset.
func (c *WallClock) Offset() time.Duration { return c.offset }

// ManualClock is advanced explicitly. Used by tests and replay.
type ManualClock struct {
	mu   sync.Mutex
	week int64
}

func NewManualClock(week int64) *ManualClock {
	return &ManualClock{week: week}
}

func (c *ManualClock) CurrentWeek() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.week
}

func (c *ManualClock) Set(week int64) {
	c.mu.Lock()
	c.week = week
	c.mu.Unlock()
}

func (c *ManualClock) Advance(weeks int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.week += weeks
	return c.week
}

// Fixed is a constant week.
type Fixed int64

func (f Fixed) CurrentWeek() int64 { return int64(f) }
