package duration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculate(t *testing.T) {
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	at := func(d time.Duration) time.Time { return base.Add(d) }

	tests := []struct {
		name string
		in   []time.Time
		want Result
	}{
		{
			name: "empty",
			in:   nil,
			want: Result{},
		},
		{
			name: "single item",
			in:   []time.Time{base},
			want: Result{},
		},
		{
			name: "mixed active and idle gaps",
			// t, t+3m, t+13m, t+43m, t+48m, t+108m, t+110m
			// active: 3m + 10m + 5m + 2m = 20m; idle: 30m, 60m
			in: []time.Time{
				at(0), at(3 * time.Minute), at(13 * time.Minute),
				at(43 * time.Minute), at(48 * time.Minute),
				at(108 * time.Minute), at(110 * time.Minute),
			},
			want: Result{DurationSeconds: 1200, ActiveGaps: 4, IdleGaps: 2},
		},
		{
			name: "gap exactly fifteen minutes is active",
			in:   []time.Time{base, at(15 * time.Minute)},
			want: Result{DurationSeconds: 900, ActiveGaps: 1},
		},
		{
			name: "gap just over fifteen minutes is idle",
			in:   []time.Time{base, at(15*time.Minute + time.Second)},
			want: Result{DurationSeconds: 0, IdleGaps: 1},
		},
		{
			name: "out of order pair ignored",
			in:   []time.Time{at(5 * time.Minute), base, at(2 * time.Minute)},
			want: Result{DurationSeconds: 120, ActiveGaps: 1},
		},
		{
			name: "duplicate timestamps ignored",
			in:   []time.Time{base, base, at(time.Minute)},
			want: Result{DurationSeconds: 60, ActiveGaps: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Calculate(tt.in))
		})
	}
}

func TestCalculate_CapsAtEightHours(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	// 60 consecutive 10-minute gaps = 10h of active time, capped at 8h.
	ts := make([]time.Time, 61)
	for i := range ts {
		ts[i] = base.Add(time.Duration(i) * 10 * time.Minute)
	}

	res := Calculate(ts)
	assert.Equal(t, 28_800, res.DurationSeconds)
	assert.Equal(t, 60, res.ActiveGaps)
	assert.Equal(t, 0, res.IdleGaps)
}
