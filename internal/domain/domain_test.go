package domain

import (
	"testing"
	"time"
)

// --- SchedulerState Tests ---

func TestSchedulerState_IsFailed_Boundary(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	state := &SchedulerState{
		InstanceID:      "node-a",
		LastCheckinTime: base,
		CheckinInterval: 10 * time.Second,
	}

	// Ровно на границе — ещё жив
	if state.IsFailed(base.Add(20*time.Second), 2) {
		t.Error("instance exactly at interval*threshold should not be failed")
	}

	// Чуть дальше границы — упал
	if !state.IsFailed(base.Add(20*time.Second+time.Nanosecond), 2) {
		t.Error("instance past interval*threshold should be failed")
	}
}

func TestSchedulerState_IsFailed_FractionalThreshold(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	state := &SchedulerState{LastCheckinTime: base, CheckinInterval: 10 * time.Second}

	if state.IsFailed(base.Add(15*time.Second), 1.5) {
		t.Error("15s with 10s*1.5 should not be failed")
	}
	if !state.IsFailed(base.Add(16*time.Second), 1.5) {
		t.Error("16s with 10s*1.5 should be failed")
	}
}

func TestSchedulerState_RecoveryInProgress(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	started := now.Add(-5 * time.Second)

	state := &SchedulerState{InstanceID: "node-a"}
	if state.RecoveryInProgress(now, 10*time.Second) {
		t.Error("no recoverer means no recovery in progress")
	}

	state.RecovererID = "node-b"
	state.RecoveryStartedAt = &started
	if !state.RecoveryInProgress(now, 10*time.Second) {
		t.Error("fresh marker should be in progress")
	}
	if state.RecoveryInProgress(now, 4*time.Second) {
		t.Error("marker older than staleAfter should be stale")
	}
}

func TestSchedulerState_Equal(t *testing.T) {
	a := &SchedulerState{InstanceID: "x", CheckinInterval: time.Second}
	b := &SchedulerState{InstanceID: "x", CheckinInterval: time.Minute}
	c := &SchedulerState{InstanceID: "y"}

	if !a.Equal(b) {
		t.Error("states with same instance id should be equal")
	}
	if a.Equal(c) {
		t.Error("states with different instance id should differ")
	}
}

// --- FiredTrigger Tests ---

func TestFiredTrigger_NeedsRecovery(t *testing.T) {
	tests := []struct {
		name string
		ft   FiredTrigger
		want bool
	}{
		{"executing recoverable", FiredTrigger{State: FireStateExecuting, JobRequestsRecovery: true}, true},
		{"acquired", FiredTrigger{State: FireStateAcquired, JobRequestsRecovery: true}, false},
		{"no recovery requested", FiredTrigger{State: FireStateExecuting}, false},
		{"volatile", FiredTrigger{State: FireStateExecuting, JobRequestsRecovery: true, TriggerIsVolatile: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ft.NeedsRecovery(); got != tt.want {
				t.Errorf("NeedsRecovery() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFireInstanceState_IsPersistable(t *testing.T) {
	if !FireStateAcquired.IsPersistable() || !FireStateExecuting.IsPersistable() {
		t.Error("ACQUIRED and EXECUTING should be persistable")
	}
	if FireStateComplete.IsPersistable() {
		t.Error("COMPLETE must never be persisted")
	}
}

// --- Key Tests ---

func TestParseJobKey(t *testing.T) {
	key, err := ParseJobKey("G.J")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key.Name != "J" || key.Group != "G" {
		t.Errorf("unexpected key %+v", key)
	}

	key, err = ParseJobKey("report")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key.Group != DefaultGroup {
		t.Errorf("expected default group, got %s", key.Group)
	}

	if _, err := ParseJobKey("G."); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestNewTriggerKey_DefaultGroup(t *testing.T) {
	key := NewTriggerKey("t1", "")
	if key.String() != "DEFAULT.t1" {
		t.Errorf("unexpected key string %s", key.String())
	}
}
