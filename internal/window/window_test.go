/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package window

import (
	"fmt"
	"testing"
	"time"

	"github.com/friendsincode/inkwell/internal/models"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func policyWithBlackout(cadence models.Cadence, start, end string) models.SchedulePolicy {
	p := models.SchedulePolicy{Cadence: cadence, Active: true}
	if start != "" {
		p.BlackoutStart = strPtr(start)
	}
	if end != "" {
		p.BlackoutEnd = strPtr(end)
	}
	return p
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 10, hour, minute, 0, 0, time.UTC)
}

func TestIntervalMinutes(t *testing.T) {
	tests := []struct {
		name   string
		policy models.SchedulePolicy
		want   int
	}{
		{"instant", models.SchedulePolicy{Cadence: models.CadenceInstant}, 0},
		{"hourly", models.SchedulePolicy{Cadence: models.CadenceHourly}, 60},
		{"daily", models.SchedulePolicy{Cadence: models.CadenceDaily}, 1440},
		{"weekly", models.SchedulePolicy{Cadence: models.CadenceWeekly}, 10080},
		{"custom", models.SchedulePolicy{Cadence: models.CadenceCustom, IntervalMinutes: intPtr(45)}, 45},
		{"custom without interval", models.SchedulePolicy{Cadence: models.CadenceCustom}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IntervalMinutes(tt.policy); got != tt.want {
				t.Errorf("IntervalMinutes() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIsAllowedWraparoundBlackout(t *testing.T) {
	p := policyWithBlackout(models.CadenceInstant, "22:00", "08:00")

	tests := []struct {
		at   time.Time
		want bool
	}{
		{at(23, 0), false},
		{at(3, 0), false},
		{at(22, 0), false},
		{at(7, 59), false},
		{at(12, 0), true},
		{at(8, 0), true},
		{at(21, 59), true},
	}

	for _, tt := range tests {
		t.Run(tt.at.Format("15:04"), func(t *testing.T) {
			if got := IsAllowed(p, tt.at); got != tt.want {
				t.Errorf("IsAllowed(%s) = %v, want %v", tt.at.Format("15:04"), got, tt.want)
			}
		})
	}
}

func TestIsAllowedDirectBlackout(t *testing.T) {
	p := policyWithBlackout(models.CadenceInstant, "08:00", "22:00")

	tests := []struct {
		at   time.Time
		want bool
	}{
		{at(23, 0), true},
		{at(3, 0), true},
		{at(12, 0), false},
		{at(8, 0), false},
		{at(22, 0), true},
	}

	for _, tt := range tests {
		t.Run(tt.at.Format("15:04"), func(t *testing.T) {
			if got := IsAllowed(p, tt.at); got != tt.want {
				t.Errorf("IsAllowed(%s) = %v, want %v", tt.at.Format("15:04"), got, tt.want)
			}
		})
	}
}

func TestIsAllowedWithoutBlackout(t *testing.T) {
	policies := map[string]models.SchedulePolicy{
		"none":       policyWithBlackout(models.CadenceDaily, "", ""),
		"start only": policyWithBlackout(models.CadenceDaily, "22:00", ""),
		"end only":   policyWithBlackout(models.CadenceDaily, "", "08:00"),
		"empty":      policyWithBlackout(models.CadenceDaily, "10:00", "10:00"),
	}

	for name, p := range policies {
		t.Run(name, func(t *testing.T) {
			for minute := 0; minute < models.MinutesPerDay; minute++ {
				ts := at(0, 0).Add(time.Duration(minute) * time.Minute)
				if !IsAllowed(p, ts) {
					t.Fatalf("IsAllowed(%s) = false, want true", ts.Format("15:04"))
				}
			}
		})
	}
}

func TestIsAllowedUsesInstantLocation(t *testing.T) {
	p := policyWithBlackout(models.CadenceInstant, "22:00", "08:00")
	loc := time.FixedZone("UTC+3", 3*60*60)

	// 20:00 UTC is 23:00 at UTC+3.
	ts := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)
	if !IsAllowed(p, ts) {
		t.Fatal("expected 20:00 UTC to be allowed")
	}
	if IsAllowed(p, ts.In(loc)) {
		t.Fatal("expected 23:00 UTC+3 to be blacked out")
	}
}

func TestNextAllowed(t *testing.T) {
	tests := []struct {
		name   string
		policy models.SchedulePolicy
		after  time.Time
		want   time.Time
	}{
		{
			name:   "instant without blackout returns after",
			policy: policyWithBlackout(models.CadenceInstant, "", ""),
			after:  at(9, 30),
			want:   at(9, 30),
		},
		{
			name:   "instant inside blackout steps by minute to blackout end",
			policy: policyWithBlackout(models.CadenceInstant, "22:00", "08:00"),
			after:  at(23, 15),
			want:   at(8, 0).Add(24 * time.Hour),
		},
		{
			name:   "hourly strides past the blackout",
			policy: policyWithBlackout(models.CadenceHourly, "22:00", "08:00"),
			after:  at(21, 30),
			want:   at(8, 30).Add(24 * time.Hour),
		},
		{
			name:   "daily lands on allowed time next day",
			policy: policyWithBlackout(models.CadenceDaily, "22:00", "08:00"),
			after:  at(9, 0),
			want:   at(9, 0).Add(24 * time.Hour),
		},
		{
			name:   "daily stuck in blackout falls back to minute steps",
			policy: policyWithBlackout(models.CadenceDaily, "22:00", "08:00"),
			after:  at(23, 0),
			want:   at(8, 0).Add(48 * time.Hour),
		},
		{
			name: "custom interval",
			policy: models.SchedulePolicy{
				Cadence:         models.CadenceCustom,
				IntervalMinutes: intPtr(90),
			},
			after: at(10, 0),
			want:  at(11, 30),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextAllowed(tt.policy, tt.after)
			if !got.Equal(tt.want) {
				t.Errorf("NextAllowed() = %s, want %s", got.Format(time.RFC3339), tt.want.Format(time.RFC3339))
			}
			if !IsAllowed(tt.policy, got) {
				t.Errorf("NextAllowed() returned blacked out instant %s", got.Format(time.RFC3339))
			}
		})
	}
}

func TestNextAllowedTerminatesWithinBound(t *testing.T) {
	cadences := []models.SchedulePolicy{
		{Cadence: models.CadenceInstant},
		{Cadence: models.CadenceHourly},
		{Cadence: models.CadenceDaily},
		{Cadence: models.CadenceWeekly},
		{Cadence: models.CadenceCustom, IntervalMinutes: intPtr(7)},
		{Cadence: models.CadenceCustom, IntervalMinutes: intPtr(1000)},
		{Cadence: models.CadenceCustom, IntervalMinutes: intPtr(2880)},
	}
	windows := [][2]string{
		{"22:00", "08:00"},
		{"08:00", "22:00"},
		{"00:30", "00:00"}, // only 00:00-00:30 allowed
		{"00:01", "00:00"}, // only 00:00 allowed
		{"12:00", "12:01"},
	}

	for _, base := range cadences {
		for _, w := range windows {
			p := base
			p.BlackoutStart = strPtr(w[0])
			p.BlackoutEnd = strPtr(w[1])
			bound := time.Duration(IntervalMinutes(p)+models.MinutesPerDay) * time.Minute

			name := fmt.Sprintf("%s_%d_%s-%s", p.Cadence, IntervalMinutes(p), w[0], w[1])
			t.Run(name, func(t *testing.T) {
				for minute := 0; minute < models.MinutesPerDay; minute += 17 {
					after := at(0, 0).Add(time.Duration(minute) * time.Minute)
					got := NextAllowed(p, after)
					if got.Before(after) {
						t.Fatalf("NextAllowed(%s) = %s, before after", after, got)
					}
					if got.Sub(after) > bound {
						t.Fatalf("NextAllowed(%s) = %s, exceeds bound %s", after, got, bound)
					}
					if !IsAllowed(p, got) {
						t.Fatalf("NextAllowed(%s) = %s, which is blacked out", after, got)
					}
				}
			})
		}
	}
}
