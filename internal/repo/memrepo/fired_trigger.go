package memrepo

import (
	"context"
	"fmt"
	"sort"

	"github.com/shaiso/jobstore/internal/domain"
	"github.com/shaiso/jobstore/internal/repo"
)

// FiredTriggerRepo — эпизоды срабатывания в памяти.
type FiredTriggerRepo struct {
	db *DB
}

func (r *FiredTriggerRepo) Insert(_ context.Context, _ repo.DBTX, ft *domain.FiredTrigger) error {
	if !ft.State.IsPersistable() {
		return fmt.Errorf("%w: fired trigger state %s", repo.ErrInvalidState, ft.State)
	}

	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.fired[ft.FireInstanceID]; ok {
		return repo.ErrAlreadyExists
	}
	r.db.fired[ft.FireInstanceID] = *ft
	return nil
}

func (r *FiredTriggerRepo) Update(_ context.Context, _ repo.DBTX, ft *domain.FiredTrigger) error {
	if !ft.State.IsPersistable() {
		return fmt.Errorf("%w: fired trigger state %s", repo.ErrInvalidState, ft.State)
	}

	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.fired[ft.FireInstanceID]; !ok {
		return repo.ErrNotFound
	}
	r.db.fired[ft.FireInstanceID] = *ft
	return nil
}

func (r *FiredTriggerRepo) Delete(_ context.Context, _ repo.DBTX, fireInstanceID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.fired[fireInstanceID]; !ok {
		return repo.ErrNotFound
	}
	delete(r.db.fired, fireInstanceID)
	return nil
}

func (r *FiredTriggerRepo) FindByKey(_ context.Context, _ repo.DBTX, fireInstanceID string) (*domain.FiredTrigger, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	ft, ok := r.db.fired[fireInstanceID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &ft, nil
}

func (r *FiredTriggerRepo) FindBySchedulerInstanceID(_ context.Context, _ repo.DBTX, instanceID string) ([]domain.FiredTrigger, error) {
	return r.filter(func(ft *domain.FiredTrigger) bool { return ft.SchedulerInstanceID == instanceID }), nil
}

func (r *FiredTriggerRepo) FindByJobKey(_ context.Context, _ repo.DBTX, key domain.JobKey) ([]domain.FiredTrigger, error) {
	return r.filter(func(ft *domain.FiredTrigger) bool { return ft.JobKey == key }), nil
}

func (r *FiredTriggerRepo) FindAll(_ context.Context, _ repo.DBTX) ([]domain.FiredTrigger, error) {
	return r.filter(func(*domain.FiredTrigger) bool { return true }), nil
}

func (r *FiredTriggerRepo) filter(match func(ft *domain.FiredTrigger) bool) []domain.FiredTrigger {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var result []domain.FiredTrigger
	for _, ft := range r.db.fired {
		if match(&ft) {
			result = append(result, ft)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].FireTimestamp.Equal(result[j].FireTimestamp) {
			return result[i].FireInstanceID < result[j].FireInstanceID
		}
		return result[i].FireTimestamp.Before(result[j].FireTimestamp)
	})
	return result
}
