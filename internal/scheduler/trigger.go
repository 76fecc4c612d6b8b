package scheduler

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/robfig/cron"
)

// Trigger decides when a job's next run is due.
type Trigger interface {
	// Next returns the next scheduled run strictly after from.
	Next(from time.Time) time.Time
	String() string
}

// CronTrigger fires on a standard 5-field cron expression, evaluated in
// the given IANA zone.
type CronTrigger struct {
	expr string
	loc  *time.Location
	sch  cron.Schedule
}

// NewCronTrigger parses a standard 5-field cron expression (minute hour
// dom month dow) for the given zone name. robfig/cron's Parse expects a
// leading seconds field, so a "0" is prepended before handing the
// expression to the library.
func NewCronTrigger(expr, zone string) (*CronTrigger, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", zone, err)
	}
	sch, err := cron.Parse("0 " + expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return &CronTrigger{expr: expr, loc: loc, sch: sch}, nil
}

func (t *CronTrigger) Next(from time.Time) time.Time {
	return t.sch.Next(from.In(t.loc))
}

func (t *CronTrigger) String() string { return fmt.Sprintf("cron(%s %s)", t.expr, t.loc) }

// IntervalTrigger fires every period, with up to jitter added to spread
// load when several interval jobs share a period.
type IntervalTrigger struct {
	Period time.Duration
	Jitter time.Duration
}

func (t IntervalTrigger) Next(from time.Time) time.Time {
	next := from.Add(t.Period)
	if t.Jitter > 0 {
		next = next.Add(time.Duration(rand.Int63n(int64(t.Jitter) + 1)))
	}
	return next
}

func (t IntervalTrigger) String() string {
	return fmt.Sprintf("interval(%s +/-%s)", t.Period, t.Jitter)
}
