package memrepo

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/shaiso/jobstore/internal/domain"
	"github.com/shaiso/jobstore/internal/repo"
)

// TriggerRepo — triggers в памяти.
type TriggerRepo struct {
	db *DB
}

func (r *TriggerRepo) Insert(_ context.Context, _ repo.DBTX, t *domain.Trigger) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.triggers[t.Key]; ok {
		return repo.ErrAlreadyExists
	}
	if _, ok := r.db.jobs[t.JobKey]; !ok {
		return fmt.Errorf("insert trigger %s: job %s: %w", t.Key, t.JobKey, repo.ErrNotFound)
	}
	r.db.triggers[t.Key] = cloneTrigger(*t)
	return nil
}

func (r *TriggerRepo) Update(_ context.Context, _ repo.DBTX, t *domain.Trigger) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.triggers[t.Key]; !ok {
		return repo.ErrNotFound
	}
	r.db.triggers[t.Key] = cloneTrigger(*t)
	return nil
}

func (r *TriggerRepo) Delete(_ context.Context, _ repo.DBTX, key domain.TriggerKey) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.triggers[key]; !ok {
		return repo.ErrNotFound
	}
	delete(r.db.triggers, key)
	return nil
}

func (r *TriggerRepo) FindByKey(_ context.Context, _ repo.DBTX, key domain.TriggerKey) (*domain.Trigger, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	t, ok := r.db.triggers[key]
	if !ok {
		return nil, repo.ErrNotFound
	}
	t = cloneTrigger(t)
	return &t, nil
}

func (r *TriggerRepo) FindByJobKey(_ context.Context, _ repo.DBTX, key domain.JobKey) ([]domain.Trigger, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var result []domain.Trigger
	for _, t := range r.db.triggers {
		if t.JobKey == key {
			result = append(result, cloneTrigger(t))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key.String() < result[j].Key.String() })
	return result, nil
}

func (r *TriggerRepo) FindDue(_ context.Context, _ repo.DBTX, noLaterThan time.Time, limit int) ([]domain.Trigger, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var result []domain.Trigger
	for _, t := range r.db.triggers {
		if t.State != domain.TriggerStateWaiting || t.NextFireTime == nil || t.NextFireTime.After(noLaterThan) {
			continue
		}
		result = append(result, cloneTrigger(t))
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.NextFireTime.Equal(*b.NextFireTime) {
			return a.NextFireTime.Before(*b.NextFireTime)
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.Key.String() < b.Key.String()
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *TriggerRepo) UpdateStateFrom(_ context.Context, _ repo.DBTX, key domain.TriggerKey, state domain.TriggerState, from ...domain.TriggerState) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	t, ok := r.db.triggers[key]
	if !ok || !slices.Contains(from, t.State) {
		return false, nil
	}
	t.State = state
	r.db.triggers[key] = t
	return true, nil
}

func (r *TriggerRepo) UpdateStatesForJob(_ context.Context, _ repo.DBTX, key domain.JobKey, state, from domain.TriggerState) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var n int
	for k, t := range r.db.triggers {
		if t.JobKey == key && t.State == from {
			t.State = state
			r.db.triggers[k] = t
			n++
		}
	}
	return n, nil
}

func cloneTrigger(t domain.Trigger) domain.Trigger {
	if t.NextFireTime != nil {
		next := *t.NextFireTime
		t.NextFireTime = &next
	}
	if t.PrevFireTime != nil {
		prev := *t.PrevFireTime
		t.PrevFireTime = &prev
	}
	if t.JobData != nil {
		t.JobData = maps.Clone(t.JobData)
	}
	return t
}
