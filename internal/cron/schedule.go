package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// MinEvery is the smallest accepted interval for "every" schedules.
const MinEvery = time.Second

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// NewAtSchedule builds a one-shot schedule. Timestamps in the past are
// rejected here, at creation, not at run time.
func NewAtSchedule(at time.Time, now time.Time) (Schedule, error) {
	if !at.After(now) {
		return Schedule{}, fmt.Errorf("at schedule %s is in the past", at.UTC().Format(time.RFC3339))
	}
	return Schedule{Kind: KindAt, AtMS: at.UnixMilli()}, nil
}

// NewEverySchedule builds a fixed-interval schedule.
func NewEverySchedule(every time.Duration) (Schedule, error) {
	if every < MinEvery {
		return Schedule{}, fmt.Errorf("every schedule below minimum interval %s", MinEvery)
	}
	return Schedule{Kind: KindEvery, EveryMS: every.Milliseconds()}, nil
}

// NewCronSchedule builds a five-field cron-expression schedule (UTC).
func NewCronSchedule(expr string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Schedule{}, fmt.Errorf("cron expression is required")
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return Schedule{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return Schedule{Kind: KindCron, Expr: expr}, nil
}

// Validate checks the schedule invariant: exactly one field set, matching Kind.
func (s Schedule) Validate() error {
	switch s.Kind {
	case KindAt:
		if s.AtMS <= 0 || s.EveryMS != 0 || s.Expr != "" {
			return fmt.Errorf("at schedule must set only at_ms")
		}
	case KindEvery:
		if s.EveryMS <= 0 || s.AtMS != 0 || s.Expr != "" {
			return fmt.Errorf("every schedule must set only every_ms")
		}
		if time.Duration(s.EveryMS)*time.Millisecond < MinEvery {
			return fmt.Errorf("every schedule below minimum interval %s", MinEvery)
		}
	case KindCron:
		if s.Expr == "" || s.AtMS != 0 || s.EveryMS != 0 {
			return fmt.Errorf("cron schedule must set only expr")
		}
		if _, err := cronParser.Parse(s.Expr); err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
	default:
		return fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
	return nil
}

// Next returns the next fire time strictly after the job's reference point.
// The second return is false when the schedule will never fire again.
func (j *Job) Next(now time.Time) (time.Time, bool) {
	switch j.Schedule.Kind {
	case KindAt:
		if j.State.LastRunAtMS > 0 {
			return time.Time{}, false
		}
		return time.UnixMilli(j.Schedule.AtMS).UTC(), true
	case KindEvery:
		base := j.CreatedAtMS
		if j.State.LastRunAtMS > 0 {
			base = j.State.LastRunAtMS
		}
		return time.UnixMilli(base + j.Schedule.EveryMS).UTC(), true
	case KindCron:
		schedule, err := cronParser.Parse(j.Schedule.Expr)
		if err != nil {
			return time.Time{}, false
		}
		// Next slot after the last run (or creation), so a job never
		// re-fires the slot it just ran in.
		base := time.UnixMilli(j.CreatedAtMS).UTC()
		if j.State.LastRunAtMS > 0 {
			base = time.UnixMilli(j.State.LastRunAtMS).UTC()
		}
		next := schedule.Next(base)
		return next, !next.IsZero()
	default:
		return time.Time{}, false
	}
}

// Due reports whether the job should fire at now.
func (j *Job) Due(now time.Time) bool {
	if !j.Enabled {
		return false
	}
	next, ok := j.Next(now)
	if !ok {
		return false
	}
	return !next.After(now)
}
