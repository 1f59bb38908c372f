package cron

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T, now func() time.Time) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "cron.json"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if now != nil {
		store.now = now
	}
	return store
}

func TestStoreAddValidates(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newTestStore(t, func() time.Time { return now })

	if _, err := store.Add("bad", Schedule{Kind: KindEvery}, Payload{Message: "hi"}, false, ""); err == nil {
		t.Error("expected error for zero-interval every schedule")
	}
	pastAt := Schedule{Kind: KindAt, AtMS: now.Add(-time.Hour).UnixMilli()}
	if _, err := store.Add("bad", pastAt, Payload{Message: "hi"}, false, ""); err == nil {
		t.Error("expected error for at schedule in the past")
	}

	job, err := store.Add("ok", Schedule{Kind: KindEvery, EveryMS: 60000}, Payload{Message: "hi"}, false, "telegram:42")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if job.ID == "" || !job.Enabled || job.Owner != "telegram:42" {
		t.Errorf("unexpected job: %+v", job)
	}
}

func TestStorePersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cron.json")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	job, err := store.Add("reminder", Schedule{Kind: KindCron, Expr: "0 9 * * *"}, Payload{Message: "standup"}, false, "slack:C1")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	reloaded, err := NewStore(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	jobs := reloaded.List()
	if len(jobs) != 1 || jobs[0].ID != job.ID || jobs[0].Payload.Message != "standup" {
		t.Fatalf("unexpected reloaded jobs: %+v", jobs)
	}
}

func TestStoreRecordRunDeletesOneShot(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newTestStore(t, func() time.Time { return now })

	sched := Schedule{Kind: KindAt, AtMS: now.Add(time.Minute).UnixMilli()}
	job, err := store.Add("once", sched, Payload{Message: "fire"}, true, "")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Deletion applies on failed runs too.
	if err := store.RecordRun(job.ID, StatusError, "boom", "", now.Add(time.Minute)); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if _, ok := store.Get(job.ID); ok {
		t.Error("delete_after_run job still present after its run")
	}
}

func TestStoreRecordRunKeepsRecurring(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newTestStore(t, func() time.Time { return now })

	job, err := store.Add("tick", Schedule{Kind: KindEvery, EveryMS: 60000}, Payload{Message: "hi"}, true, "")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := store.RecordRun(job.ID, StatusError, "boom", "", now); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	got, ok := store.Get(job.ID)
	if !ok {
		t.Fatal("recurring job deleted after a failed run")
	}
	if got.State.LastStatus != StatusError || got.State.LastError != "boom" {
		t.Errorf("unexpected state: %+v", got.State)
	}
	if !got.Enabled {
		t.Error("failed run disabled the job")
	}
}

func TestStoreRemove(t *testing.T) {
	store := newTestStore(t, nil)
	job, err := store.Add("gone", Schedule{Kind: KindEvery, EveryMS: 60000}, Payload{Message: "x"}, false, "")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	removed, err := store.Remove(job.ID)
	if err != nil || !removed {
		t.Fatalf("Remove: removed=%v err=%v", removed, err)
	}
	removed, err = store.Remove(job.ID)
	if err != nil || removed {
		t.Fatalf("second Remove: removed=%v err=%v", removed, err)
	}
}
