package memrepo

import (
	"context"
	"sort"
	"time"

	"github.com/shaiso/jobstore/internal/domain"
	"github.com/shaiso/jobstore/internal/repo"
)

// SchedulerStateRepo — записи живости в памяти.
type SchedulerStateRepo struct {
	db *DB
}

func (r *SchedulerStateRepo) Insert(_ context.Context, _ repo.DBTX, state *domain.SchedulerState) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.states[state.InstanceID]; ok {
		return repo.ErrAlreadyExists
	}
	r.db.states[state.InstanceID] = cloneState(*state)
	return nil
}

func (r *SchedulerStateRepo) Update(_ context.Context, _ repo.DBTX, state *domain.SchedulerState) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.states[state.InstanceID]; !ok {
		return repo.ErrNotFound
	}
	r.db.states[state.InstanceID] = cloneState(*state)
	return nil
}

func (r *SchedulerStateRepo) Delete(_ context.Context, _ repo.DBTX, instanceID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.states[instanceID]; !ok {
		return repo.ErrNotFound
	}
	delete(r.db.states, instanceID)
	return nil
}

func (r *SchedulerStateRepo) FindByKey(_ context.Context, _ repo.DBTX, instanceID string) (*domain.SchedulerState, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	state, ok := r.db.states[instanceID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	s := cloneState(state)
	return &s, nil
}

func (r *SchedulerStateRepo) FindAll(_ context.Context, _ repo.DBTX) ([]domain.SchedulerState, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	states := make([]domain.SchedulerState, 0, len(r.db.states))
	for _, s := range r.db.states {
		states = append(states, cloneState(s))
	}
	sort.Slice(states, func(i, j int) bool { return states[i].InstanceID < states[j].InstanceID })
	return states, nil
}

func (r *SchedulerStateRepo) ClaimRecovery(_ context.Context, _ repo.DBTX, instanceID, recovererID string, observedCheckin, now, staleBefore time.Time) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	state, ok := r.db.states[instanceID]
	if !ok || !state.LastCheckinTime.Equal(observedCheckin) {
		return false, nil
	}

	claimable := state.RecovererID == "" ||
		state.RecovererID == recovererID ||
		state.RecoveryStartedAt == nil ||
		state.RecoveryStartedAt.Before(staleBefore)
	if !claimable {
		return false, nil
	}

	state.RecovererID = recovererID
	state.RecoveryStartedAt = &now
	r.db.states[instanceID] = state
	return true, nil
}

func cloneState(s domain.SchedulerState) domain.SchedulerState {
	if s.RecoveryStartedAt != nil {
		t := *s.RecoveryStartedAt
		s.RecoveryStartedAt = &t
	}
	return s
}
