package cron

import (
	"testing"
	"time"
)

func TestNewEveryScheduleRejectsSubSecond(t *testing.T) {
	if _, err := NewEverySchedule(0); err == nil {
		t.Fatal("expected error for zero interval")
	}
	if _, err := NewEverySchedule(500 * time.Millisecond); err == nil {
		t.Fatal("expected error for sub-second interval")
	}
	sched, err := NewEverySchedule(time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sched.Kind != KindEvery || sched.EveryMS != 1000 {
		t.Errorf("unexpected schedule: %+v", sched)
	}
}

func TestNewAtScheduleRejectsPast(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if _, err := NewAtSchedule(now.Add(-time.Minute), now); err == nil {
		t.Fatal("expected error for past timestamp")
	}
	if _, err := NewAtSchedule(now, now); err == nil {
		t.Fatal("expected error for timestamp equal to now")
	}
	sched, err := NewAtSchedule(now.Add(time.Hour), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sched.Kind != KindAt {
		t.Errorf("unexpected kind %q", sched.Kind)
	}
}

func TestNewCronScheduleValidatesExpression(t *testing.T) {
	if _, err := NewCronSchedule("not a cron"); err == nil {
		t.Fatal("expected error for invalid expression")
	}
	if _, err := NewCronSchedule(""); err == nil {
		t.Fatal("expected error for empty expression")
	}
	sched, err := NewCronSchedule("*/5 * * * *")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sched.Kind != KindCron {
		t.Errorf("unexpected kind %q", sched.Kind)
	}
}

func TestScheduleValidateExclusivity(t *testing.T) {
	cases := []struct {
		name    string
		sched   Schedule
		wantErr bool
	}{
		{"valid at", Schedule{Kind: KindAt, AtMS: 1000}, false},
		{"valid every", Schedule{Kind: KindEvery, EveryMS: 60000}, false},
		{"valid cron", Schedule{Kind: KindCron, Expr: "0 * * * *"}, false},
		{"at with every", Schedule{Kind: KindAt, AtMS: 1000, EveryMS: 1000}, true},
		{"every with expr", Schedule{Kind: KindEvery, EveryMS: 60000, Expr: "* * * * *"}, true},
		{"cron with at", Schedule{Kind: KindCron, Expr: "* * * * *", AtMS: 5}, true},
		{"every too small", Schedule{Kind: KindEvery, EveryMS: 10}, true},
		{"unknown kind", Schedule{Kind: "sometimes"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.sched.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestJobNextEvery(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := &Job{
		Enabled:     true,
		Schedule:    Schedule{Kind: KindEvery, EveryMS: 60000},
		CreatedAtMS: created.UnixMilli(),
	}

	next, ok := job.Next(created)
	if !ok || !next.Equal(created.Add(time.Minute)) {
		t.Fatalf("expected next one minute after creation, got %v ok=%v", next, ok)
	}

	job.State.LastRunAtMS = created.Add(5 * time.Minute).UnixMilli()
	next, ok = job.Next(created.Add(5 * time.Minute))
	if !ok || !next.Equal(created.Add(6*time.Minute)) {
		t.Fatalf("expected next one minute after last run, got %v ok=%v", next, ok)
	}
}

func TestJobNextAtFiresOnce(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := &Job{
		Enabled:  true,
		Schedule: Schedule{Kind: KindAt, AtMS: at.UnixMilli()},
	}

	if !job.Due(at) {
		t.Error("expected job due at its timestamp")
	}
	if job.Due(at.Add(-time.Second)) {
		t.Error("job due before its timestamp")
	}

	job.State.LastRunAtMS = at.UnixMilli()
	if _, ok := job.Next(at.Add(time.Hour)); ok {
		t.Error("one-shot job reported a next fire after running")
	}
}

func TestJobNextCronDoesNotRefireSameSlot(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	job := &Job{
		Enabled:     true,
		Schedule:    Schedule{Kind: KindCron, Expr: "* * * * *"},
		CreatedAtMS: created.UnixMilli(),
	}

	fireAt := time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC)
	if !job.Due(fireAt) {
		t.Fatal("expected job due at the minute boundary")
	}

	job.State.LastRunAtMS = fireAt.UnixMilli()
	if job.Due(fireAt.Add(time.Second)) {
		t.Error("job re-fired within the same minute slot")
	}
	if !job.Due(fireAt.Add(time.Minute)) {
		t.Error("job not due at the following slot")
	}
}

func TestDisabledJobNeverDue(t *testing.T) {
	job := &Job{
		Enabled:  false,
		Schedule: Schedule{Kind: KindAt, AtMS: 1000},
	}
	if job.Due(time.UnixMilli(2000)) {
		t.Error("disabled job reported due")
	}
}
