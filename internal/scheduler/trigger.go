/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Passer runs one batch pass.
type Passer interface {
	RunOnce(ctx context.Context, now time.Time) (Summary, error)
}

// Trigger invokes a pass on a cron schedule. Overlapping firings are skipped
// in-process; the run lock covers other processes.
type Trigger struct {
	passer Passer
	spec   string
	loc    *time.Location
	now    func() time.Time
	logger zerolog.Logger
}

// NewTrigger validates spec (five-field cron or a descriptor such as @every 5m).
func NewTrigger(passer Passer, spec string, loc *time.Location, logger zerolog.Logger) (*Trigger, error) {
	if _, err := cronParser.Parse(spec); err != nil {
		return nil, fmt.Errorf("parse trigger spec %q: %w", spec, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Trigger{
		passer: passer,
		spec:   spec,
		loc:    loc,
		now:    time.Now,
		logger: logger.With().Str("component", "trigger").Logger(),
	}, nil
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Run schedules passes until ctx is cancelled, then waits for a running pass to finish.
func (t *Trigger) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(t.loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(&t.logger))),
	)
	if _, err := c.AddFunc(t.spec, func() { t.fire(ctx) }); err != nil {
		return fmt.Errorf("register trigger: %w", err)
	}

	c.Start()
	t.logger.Info().Str("spec", t.spec).Str("tz", t.loc.String()).Msg("trigger started")

	<-ctx.Done()
	<-c.Stop().Done()
	t.logger.Info().Msg("trigger stopped")
	return ctx.Err()
}

func (t *Trigger) fire(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := t.passer.RunOnce(ctx, t.now()); err != nil {
		if errors.Is(err, ErrPassInProgress) {
			return
		}
		t.logger.Error().Err(err).Msg("batch pass failed")
	}
}

// Next returns the next firing time after from.
func (t *Trigger) Next(from time.Time) time.Time {
	schedule, err := cronParser.Parse(t.spec)
	if err != nil {
		return time.Time{}
	}
	return schedule.Next(from.In(t.loc))
}
