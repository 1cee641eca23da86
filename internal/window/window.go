/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package window computes when a schedule policy allows an article to go live.
// All functions are pure; time-of-day is read in the location of the instant
// passed in.
package window

import (
	"time"

	"github.com/friendsincode/inkwell/internal/models"
)

// Interval minutes for the fixed cadences.
const (
	hourlyMinutes = 60
	dailyMinutes  = models.MinutesPerDay
	weeklyMinutes = 7 * models.MinutesPerDay
)

// IntervalMinutes returns the spacing the policy cadence implies.
// A custom cadence without a positive interval yields 0; callers validate
// policies before relying on this.
func IntervalMinutes(p models.SchedulePolicy) int {
	switch p.Cadence {
	case models.CadenceInstant:
		return 0
	case models.CadenceHourly:
		return hourlyMinutes
	case models.CadenceDaily:
		return dailyMinutes
	case models.CadenceWeekly:
		return weeklyMinutes
	case models.CadenceCustom:
		if p.IntervalMinutes != nil && *p.IntervalMinutes > 0 {
			return *p.IntervalMinutes
		}
	}
	return 0
}

// IsAllowed reports whether at falls outside the policy blackout window.
// The forbidden range is [start, end); when start > end it wraps midnight.
// An unset or unparsable bound means no blackout.
func IsAllowed(p models.SchedulePolicy, at time.Time) bool {
	start, end, ok, err := p.Blackout()
	if !ok || err != nil {
		return true
	}
	return !inBlackout(start, end, models.TimeOfDayOf(at))
}

func inBlackout(start, end, tod models.TimeOfDay) bool {
	if start > end {
		return tod >= start || tod < end
	}
	return tod >= start && tod < end
}

// NextAllowed returns the first allowed instant at or after after+interval.
//
// Probes advance by the policy interval (at least one minute) for up to one
// day past the first candidate. Strides of a day or more revisit the same
// time of day, so when no stride probe lands outside the blackout the search
// restarts from the first candidate in one-minute steps, which reaches the
// blackout end within a day. The result is never more than
// interval + 1440 minutes after after.
func NextAllowed(p models.SchedulePolicy, after time.Time) time.Time {
	interval := IntervalMinutes(p)
	candidate := after.Add(time.Duration(interval) * time.Minute)
	if IsAllowed(p, candidate) {
		return candidate
	}

	stride := interval
	if stride < 1 {
		stride = 1
	}
	limit := candidate.Add(dailyMinutes * time.Minute)

	if stride > 1 {
		for probe := candidate.Add(time.Duration(stride) * time.Minute); !probe.After(limit); probe = probe.Add(time.Duration(stride) * time.Minute) {
			if IsAllowed(p, probe) {
				return probe
			}
		}
	}

	for probe := candidate.Add(time.Minute); !probe.After(limit); probe = probe.Add(time.Minute) {
		if IsAllowed(p, probe) {
			return probe
		}
	}

	// Unreachable for a well-formed blackout, which always leaves at least
	// one allowed minute in the day.
	return limit
}
