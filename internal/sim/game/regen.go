package game

import "time"

// Regen computes lazy energy recovery. Whole intervals elapsed since last are
// converted into energy up to limit; the returned timestamp moves forward only
// by the time those units consumed, so a partial interval carries over.
// A clock that moved backwards counts as no elapsed time.
func Regen(energy, limit int, interval time.Duration, last, now time.Time) (recovered int, updatedAt time.Time) {
	if energy >= limit || interval <= 0 {
		return 0, last
	}
	elapsed := now.Sub(last)
	if elapsed < 0 {
		elapsed = 0
	}
	units := int(elapsed / interval)
	if units <= 0 {
		return 0, last
	}
	recovered = units
	if gap := limit - energy; recovered > gap {
		recovered = gap
	}
	return recovered, last.Add(time.Duration(recovered) * interval)
}
