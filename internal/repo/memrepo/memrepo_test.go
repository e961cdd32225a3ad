package memrepo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shaiso/jobstore/internal/domain"
	"github.com/shaiso/jobstore/internal/repo"
)

// --- SchedulerStateRepo Tests ---

func TestSchedulerStateRepo_InsertDuplicate(t *testing.T) {
	ctx := context.Background()
	states := New().SchedulerStates()

	state := &domain.SchedulerState{InstanceID: "node-a", CheckinInterval: time.Second}
	if err := states.Insert(ctx, nil, state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := states.Insert(ctx, nil, state); !errors.Is(err, repo.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestSchedulerStateRepo_UpdateMissing(t *testing.T) {
	states := New().SchedulerStates()

	err := states.Update(context.Background(), nil, &domain.SchedulerState{InstanceID: "ghost"})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSchedulerStateRepo_ClaimRecovery(t *testing.T) {
	ctx := context.Background()
	states := New().SchedulerStates()

	checkin := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	now := checkin.Add(time.Minute)
	states.Insert(ctx, nil, &domain.SchedulerState{InstanceID: "dead", LastCheckinTime: checkin, CheckinInterval: 10 * time.Second})

	ok, err := states.ClaimRecovery(ctx, nil, "dead", "node-b", checkin, now, now.Add(-10*time.Second))
	if err != nil || !ok {
		t.Fatalf("first claim should win: ok=%v err=%v", ok, err)
	}

	// Свежий маркер чужого recoverer — проигрываем
	ok, _ = states.ClaimRecovery(ctx, nil, "dead", "node-c", checkin, now, now.Add(-10*time.Second))
	if ok {
		t.Error("second recoverer must not claim a fresh marker")
	}

	// Свой маркер можно перехватить повторно
	ok, _ = states.ClaimRecovery(ctx, nil, "dead", "node-b", checkin, now, now.Add(-10*time.Second))
	if !ok {
		t.Error("recoverer should be able to re-claim its own marker")
	}

	// Протухший маркер перехватывается
	later := now.Add(time.Minute)
	ok, _ = states.ClaimRecovery(ctx, nil, "dead", "node-c", checkin, later, later.Add(-10*time.Second))
	if !ok {
		t.Error("stale marker should be claimable")
	}

	got, _ := states.FindByKey(ctx, nil, "dead")
	if got.RecovererID != "node-c" || got.RecoveryStartedAt == nil || !got.RecoveryStartedAt.Equal(later) {
		t.Errorf("unexpected marker: %+v", got)
	}
}

func TestSchedulerStateRepo_ClaimRecovery_InstanceCheckedIn(t *testing.T) {
	ctx := context.Background()
	states := New().SchedulerStates()

	checkin := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	states.Insert(ctx, nil, &domain.SchedulerState{InstanceID: "node-a", LastCheckinTime: checkin.Add(time.Second)})

	ok, err := states.ClaimRecovery(ctx, nil, "node-a", "node-b", checkin, checkin.Add(time.Minute), checkin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("claim must fail when the instance checked in after observation")
	}
}

func TestSchedulerStateRepo_FindByKeyReturnsCopy(t *testing.T) {
	ctx := context.Background()
	states := New().SchedulerStates()

	started := time.Now()
	states.Insert(ctx, nil, &domain.SchedulerState{InstanceID: "node-a", RecoveryStartedAt: &started})

	got, _ := states.FindByKey(ctx, nil, "node-a")
	*got.RecoveryStartedAt = started.Add(time.Hour)

	again, _ := states.FindByKey(ctx, nil, "node-a")
	if !again.RecoveryStartedAt.Equal(started) {
		t.Error("mutating a returned record must not change stored state")
	}
}

// --- FiredTriggerRepo Tests ---

func TestFiredTriggerRepo_RejectsComplete(t *testing.T) {
	fired := New().FiredTriggers()

	err := fired.Insert(context.Background(), nil, &domain.FiredTrigger{FireInstanceID: "f1", State: domain.FireStateComplete})
	if !errors.Is(err, repo.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestFiredTriggerRepo_Lookups(t *testing.T) {
	ctx := context.Background()
	fired := New().FiredTriggers()

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	job := domain.NewJobKey("J", "G")
	rows := []domain.FiredTrigger{
		{FireInstanceID: "f2", JobKey: job, SchedulerInstanceID: "a", FireTimestamp: base.Add(time.Second), State: domain.FireStateExecuting},
		{FireInstanceID: "f1", JobKey: job, SchedulerInstanceID: "a", FireTimestamp: base, State: domain.FireStateAcquired},
		{FireInstanceID: "f3", JobKey: domain.NewJobKey("K", ""), SchedulerInstanceID: "b", FireTimestamp: base, State: domain.FireStateExecuting},
	}
	for i := range rows {
		if err := fired.Insert(ctx, nil, &rows[i]); err != nil {
			t.Fatalf("insert %s: %v", rows[i].FireInstanceID, err)
		}
	}

	byInstance, _ := fired.FindBySchedulerInstanceID(ctx, nil, "a")
	if len(byInstance) != 2 || byInstance[0].FireInstanceID != "f1" {
		t.Errorf("expected [f1 f2] ordered by fire time, got %+v", byInstance)
	}

	byJob, _ := fired.FindByJobKey(ctx, nil, job)
	if len(byJob) != 2 {
		t.Errorf("expected 2 rows for job, got %d", len(byJob))
	}

	all, _ := fired.FindAll(ctx, nil)
	if len(all) != 3 {
		t.Errorf("expected 3 rows, got %d", len(all))
	}

	if err := fired.Delete(ctx, nil, "f1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := fired.FindByKey(ctx, nil, "f1"); !errors.Is(err, repo.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

// --- TriggerRepo Tests ---

func TestTriggerRepo_InsertRequiresJob(t *testing.T) {
	triggers := New().Triggers()

	err := triggers.Insert(context.Background(), nil, &domain.Trigger{
		Key:    domain.NewTriggerKey("t1", ""),
		JobKey: domain.NewJobKey("missing", ""),
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTriggerRepo_FindDue(t *testing.T) {
	ctx := context.Background()
	db := New()
	jobKey := domain.NewJobKey("J", "")
	db.Jobs().Insert(ctx, nil, &domain.Job{Key: jobKey})

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time { t := base.Add(d); return &t }

	for _, tr := range []domain.Trigger{
		{Key: domain.NewTriggerKey("late", ""), State: domain.TriggerStateWaiting, NextFireTime: at(time.Hour)},
		{Key: domain.NewTriggerKey("low", ""), State: domain.TriggerStateWaiting, NextFireTime: at(0), Priority: 1},
		{Key: domain.NewTriggerKey("high", ""), State: domain.TriggerStateWaiting, NextFireTime: at(0), Priority: 9},
		{Key: domain.NewTriggerKey("paused", ""), State: domain.TriggerStatePaused, NextFireTime: at(0)},
		{Key: domain.NewTriggerKey("done", ""), State: domain.TriggerStateWaiting},
	} {
		tr.JobKey = jobKey
		if err := db.Triggers().Insert(ctx, nil, &tr); err != nil {
			t.Fatalf("insert %s: %v", tr.Key, err)
		}
	}

	due, err := db.Triggers().FindDue(ctx, nil, base.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due triggers, got %d", len(due))
	}
	if due[0].Key.Name != "high" || due[1].Key.Name != "low" {
		t.Errorf("expected [high low], got [%s %s]", due[0].Key.Name, due[1].Key.Name)
	}

	limited, _ := db.Triggers().FindDue(ctx, nil, base.Add(time.Minute), 1)
	if len(limited) != 1 {
		t.Errorf("expected limit 1, got %d", len(limited))
	}
}

func TestTriggerRepo_UpdateStateFrom(t *testing.T) {
	ctx := context.Background()
	db := New()
	jobKey := domain.NewJobKey("J", "")
	db.Jobs().Insert(ctx, nil, &domain.Job{Key: jobKey})

	key := domain.NewTriggerKey("t1", "")
	db.Triggers().Insert(ctx, nil, &domain.Trigger{Key: key, JobKey: jobKey, State: domain.TriggerStateAcquired})

	ok, _ := db.Triggers().UpdateStateFrom(ctx, nil, key, domain.TriggerStateWaiting, domain.TriggerStateBlocked)
	if ok {
		t.Error("state ACQUIRED is not in from-set, update must not happen")
	}

	ok, _ = db.Triggers().UpdateStateFrom(ctx, nil, key, domain.TriggerStateWaiting, domain.TriggerStateAcquired, domain.TriggerStateBlocked)
	if !ok {
		t.Error("expected update from ACQUIRED")
	}

	got, _ := db.Triggers().FindByKey(ctx, nil, key)
	if got.State != domain.TriggerStateWaiting {
		t.Errorf("expected WAITING, got %s", got.State)
	}
}

func TestTriggerRepo_UpdateStatesForJob(t *testing.T) {
	ctx := context.Background()
	db := New()
	jobKey := domain.NewJobKey("J", "")
	db.Jobs().Insert(ctx, nil, &domain.Job{Key: jobKey})

	db.Triggers().Insert(ctx, nil, &domain.Trigger{Key: domain.NewTriggerKey("a", ""), JobKey: jobKey, State: domain.TriggerStateBlocked})
	db.Triggers().Insert(ctx, nil, &domain.Trigger{Key: domain.NewTriggerKey("b", ""), JobKey: jobKey, State: domain.TriggerStateBlocked})
	db.Triggers().Insert(ctx, nil, &domain.Trigger{Key: domain.NewTriggerKey("c", ""), JobKey: jobKey, State: domain.TriggerStatePaused})

	n, err := db.Triggers().UpdateStatesForJob(ctx, nil, jobKey, domain.TriggerStateWaiting, domain.TriggerStateBlocked)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 updated, got %d", n)
	}
}

// --- DB Tests ---

func TestDB_InTxCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := New().InTx(ctx, func(repo.DBTX) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("fn must not run on cancelled context")
	}
}
