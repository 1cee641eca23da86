/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cadence enumerates how far apart releases in one publishing lane are spaced.
type Cadence string

const (
	CadenceInstant Cadence = "instant"
	CadenceHourly  Cadence = "hourly"
	CadenceDaily   Cadence = "daily"
	CadenceWeekly  Cadence = "weekly"
	CadenceCustom  Cadence = "custom"
)

// Valid reports whether c is a known cadence.
func (c Cadence) Valid() bool {
	switch c {
	case CadenceInstant, CadenceHourly, CadenceDaily, CadenceWeekly, CadenceCustom:
		return true
	}
	return false
}

// SchedulePolicy configures one publishing lane: cadence, blackout hours,
// daily cap and priority.
type SchedulePolicy struct {
	ID              string  `gorm:"type:uuid;primaryKey" json:"id"`
	Name            string  `gorm:"type:varchar(255);uniqueIndex;not null" json:"name"`
	Active          bool    `gorm:"not null" json:"active"`
	Cadence         Cadence `gorm:"type:varchar(16);not null" json:"cadence"`
	IntervalMinutes *int    `json:"interval_minutes,omitempty"` // custom cadence only
	BlackoutStart   *string `gorm:"type:varchar(5)" json:"blackout_start,omitempty"` // HH:MM
	BlackoutEnd     *string `gorm:"type:varchar(5)" json:"blackout_end,omitempty"`   // HH:MM
	DailyCap        *int    `json:"daily_cap,omitempty"` // nil means unlimited
	Priority        int     `gorm:"not null;default:0" json:"priority"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (SchedulePolicy) TableName() string {
	return "schedule_policies"
}

// HasDailyCap reports whether the policy limits promotions per day.
func (p SchedulePolicy) HasDailyCap() bool {
	return p.DailyCap != nil
}

// TimeOfDay is a wall-clock time expressed as minutes past midnight.
type TimeOfDay int

// MinutesPerDay is the length of the daily blackout cycle.
const MinutesPerDay = 24 * 60

// ParseTimeOfDay parses "HH:MM" (24h clock).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("time of day %q: expected HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("time of day %q: invalid hour", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || len(mm) != 2 {
		return 0, fmt.Errorf("time of day %q: invalid minute", s)
	}
	return TimeOfDay(h*60 + m), nil
}

// TimeOfDayOf returns the minute-of-day of t in t's own location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

// String formats the value as HH:MM.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// Blackout returns the parsed blackout bounds. ok is false when either bound
// is unset, meaning no blackout applies.
func (p SchedulePolicy) Blackout() (start, end TimeOfDay, ok bool, err error) {
	if p.BlackoutStart == nil || p.BlackoutEnd == nil ||
		strings.TrimSpace(*p.BlackoutStart) == "" || strings.TrimSpace(*p.BlackoutEnd) == "" {
		return 0, 0, false, nil
	}
	start, err = ParseTimeOfDay(*p.BlackoutStart)
	if err != nil {
		return 0, 0, false, err
	}
	end, err = ParseTimeOfDay(*p.BlackoutEnd)
	if err != nil {
		return 0, 0, false, err
	}
	return start, end, true, nil
}
