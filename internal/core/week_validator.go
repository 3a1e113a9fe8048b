package core

import (
	"CoverPool/internal/event"
	"errors"
	"fmt"
)

// ErrWeekRegression rejects a command whose explicit week is earlier
// than a week the engine has already applied.
var ErrWeekRegression = errors.New("week regression")

// ErrWeekMismatch rejects a live command whose explicit week is not the
// clock's current week.
var ErrWeekMismatch = errors.New("week mismatch")

// WeekValidator keeps command weeks monotonic. Weeks stamped by the
// ingestion shell are clamped up to the last applied week instead of
// rejected, since the shell's clock may lag the latest command.
// Not thread-safe; only accessed under the engine lock.
type WeekValidator struct {
	lastWeek int64
	seen     bool
}

func NewWeekValidator() *WeekValidator {
	return &WeekValidator{}
}

// Check validates cmd and returns whether its week was clamped.
func (wv *WeekValidator) Check(cmd event.Command) (bool, error) {
	if !wv.seen || cmd.Week() >= wv.lastWeek {
		return false, nil
	}
	if cmd.WasStamped() {
		cmd.StampWeek(wv.lastWeek)
		return true, nil
	}
	return false, fmt.Errorf("%w: command week %d, last applied week %d", ErrWeekRegression, cmd.Week(), wv.lastWeek)
}

// Pin binds a live command to the clock's week now. A stamped command
// takes now; an explicit week must equal it.
func (wv *WeekValidator) Pin(cmd event.Command, now int64) error {
	if cmd.WasStamped() {
		cmd.StampWeek(now)
		return nil
	}
	if cmd.Week() != now {
		return fmt.Errorf("%w: command week %d, current week %d", ErrWeekMismatch, cmd.Week(), now)
	}
	return nil
}

// Advance records an applied week.
func (wv *WeekValidator) Advance(week int64) {
	if !wv.seen || week > wv.lastWeek {
		wv.lastWeek = week
		wv.seen = true
	}
}

func (wv *WeekValidator) LastWeek() (int64, bool) {
	return wv.lastWeek, wv.seen
}

// Restore sets the last applied week (recovery)
func (wv *WeekValidator) Restore(week int64, seen bool) {
	wv.lastWeek = week
	wv.seen = seen
}
