package syncstate

import "time"

// IsFullSync reports whether a pass must start from scratch: forced, no prior
// state, or the full-sync interval has elapsed since the last full pass.
// interval <= 0 disables the periodic full sync.
func IsFullSync(force, hasState bool, lastFull *time.Time, interval time.Duration, now time.Time) bool {
	if force || !hasState {
		return true
	}
	if interval <= 0 {
		return false
	}
	if lastFull == nil {
		return true
	}
	return now.Sub(*lastFull) >= interval
}

// Clamp applies the refresh window: a position older than now-window is
// moved forward to now-window. window <= 0 leaves the position alone.
func Clamp(pos Position, window time.Duration, now time.Time) Position {
	if pos == nil || window <= 0 {
		return pos
	}
	return pos.Clamp(now.Add(-window))
}

type Plan struct {
	Full     bool
	Position Position
}

// Decide combines IsFullSync and Clamp for one entity run.
func Decide(force, hasState bool, c Cursor, interval, window time.Duration, now time.Time) Plan {
	if IsFullSync(force, hasState, c.LastFullSyncAt, interval, now) {
		return Plan{Full: true}
	}
	return Plan{Position: Clamp(c.Position, window, now)}
}
