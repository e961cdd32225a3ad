package memrepo

import (
	"context"
	"maps"

	"github.com/shaiso/jobstore/internal/domain"
	"github.com/shaiso/jobstore/internal/repo"
)

// JobRepo — jobs в памяти.
type JobRepo struct {
	db *DB
}

func (r *JobRepo) Insert(_ context.Context, _ repo.DBTX, job *domain.Job) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.jobs[job.Key]; ok {
		return repo.ErrAlreadyExists
	}
	r.db.jobs[job.Key] = cloneJob(*job)
	return nil
}

func (r *JobRepo) Update(_ context.Context, _ repo.DBTX, job *domain.Job) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.jobs[job.Key]; !ok {
		return repo.ErrNotFound
	}
	r.db.jobs[job.Key] = cloneJob(*job)
	return nil
}

func (r *JobRepo) Delete(_ context.Context, _ repo.DBTX, key domain.JobKey) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.jobs[key]; !ok {
		return repo.ErrNotFound
	}
	delete(r.db.jobs, key)
	return nil
}

func (r *JobRepo) FindByKey(_ context.Context, _ repo.DBTX, key domain.JobKey) (*domain.Job, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	job, ok := r.db.jobs[key]
	if !ok {
		return nil, repo.ErrNotFound
	}
	job = cloneJob(job)
	return &job, nil
}

func cloneJob(j domain.Job) domain.Job {
	if j.JobData != nil {
		j.JobData = maps.Clone(j.JobData)
	}
	return j
}
