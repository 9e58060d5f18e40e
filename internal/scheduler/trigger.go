// ABOUTME: Job triggers: fixed intervals and cron expressions.
// ABOUTME: A trigger computes the next scheduled slot after a run.

package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Trigger decides when a job is next due.
type Trigger interface {
	// Next returns the first slot after now, given the previously scheduled
	// slot (zero if the job never ran).
	Next(prev, now time.Time) time.Time
	String() string
}

// Interval fires every Every, anchored at the previous slot. Slots missed
// while a run overran are skipped rather than fired back to back.
type Interval struct {
	Every time.Duration
}

// Next implements Trigger.
func (i Interval) Next(prev, now time.Time) time.Time {
	if prev.IsZero() {
		return now.Add(i.Every)
	}
	next := prev.Add(i.Every)
	if next.After(now) {
		return next
	}
	missed := now.Sub(prev) / i.Every
	return prev.Add((missed + 1) * i.Every)
}

func (i Interval) String() string { return "every " + i.Every.String() }

// Cron fires on a standard five-field cron expression or a descriptor such
// as @hourly or @every 5m.
type Cron struct {
	Expr     string
	schedule cron.Schedule
}

// ParseCron parses expr with the standard cron parser.
func ParseCron(expr string) (*Cron, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parsing cron expression %q: %w", expr, err)
	}
	return &Cron{Expr: expr, schedule: schedule}, nil
}

// Next implements Trigger.
func (c *Cron) Next(_, now time.Time) time.Time { return c.schedule.Next(now) }

func (c *Cron) String() string { return "cron " + c.Expr }

// ParseTrigger builds a trigger from exactly one of every or expr.
func ParseTrigger(every time.Duration, expr string) (Trigger, error) {
	switch {
	case every > 0 && expr != "":
		return nil, errors.New("only one of every or cron may be set")
	case every > 0:
		return Interval{Every: every}, nil
	case expr != "":
		return ParseCron(expr)
	case every < 0:
		return nil, errors.New("every must be positive")
	default:
		return nil, errors.New("one of every or cron is required")
	}
}
