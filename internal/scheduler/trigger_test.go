package scheduler

import (
	"testing"
	"time"
)

func TestCronTrigger_NextDailyAtHour(t *testing.T) {
	tr, err := NewCronTrigger("0 4 * * *", "UTC")
	if err != nil {
		t.Fatalf("NewCronTrigger: %v", err)
	}
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next := tr.Next(from)
	want := time.Date(2026, 1, 1, 4, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected next run %v, got %v", want, next)
	}
}

func TestCronTrigger_WeeklyMonday(t *testing.T) {
	tr, err := NewCronTrigger("0 5 * * 1", "UTC")
	if err != nil {
		t.Fatalf("NewCronTrigger: %v", err)
	}
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) // a Thursday
	next := tr.Next(from)
	if next.Weekday() != time.Monday || next.Hour() != 5 {
		t.Errorf("expected next Monday 05:00, got %v", next)
	}
}

func TestIntervalTrigger_Next(t *testing.T) {
	tr := IntervalTrigger{Period: 15 * time.Minute}
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next := tr.Next(from)
	if !next.Equal(from.Add(15 * time.Minute)) {
		t.Errorf("expected next run 15m later, got %v", next)
	}
}
