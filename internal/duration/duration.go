// Package duration computes session durations with idle-gap exclusion.
package duration

import "time"

const (
	// MaxActiveGap is the longest consecutive-message interval that still
	// counts toward session duration.
	MaxActiveGap = 15 * time.Minute

	// MaxDuration caps the total computed duration of a session.
	MaxDuration = 8 * time.Hour
)

// Result is the outcome of a duration calculation.
type Result struct {
	DurationSeconds int `json:"durationSeconds"`
	ActiveGaps      int `json:"activeGaps"`
	IdleGaps        int `json:"idleGaps"`
}

// Calculate walks the ordered timestamps and accumulates active time.
// A gap of at most 15 minutes is active and adds to the duration; anything
// longer is idle and excluded. Non-positive gaps are ignored entirely.
// Empty or single-item input returns zeros.
func Calculate(timestamps []time.Time) Result {
	var res Result
	if len(timestamps) < 2 {
		return res
	}

	total := time.Duration(0)
	for i := 1; i < len(timestamps); i++ {
		gap := timestamps[i].Sub(timestamps[i-1])
		switch {
		case gap <= 0:
			// out-of-order or duplicate timestamps
		case gap <= MaxActiveGap:
			total += gap
			res.ActiveGaps++
		default:
			res.IdleGaps++
		}
	}

	if total > MaxDuration {
		total = MaxDuration
	}
	res.DurationSeconds = int(total.Seconds())
	return res
}
