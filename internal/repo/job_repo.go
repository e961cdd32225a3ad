package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shaiso/jobstore/internal/domain"
)

// JobRepo — репозиторий для работы с jobs.
type JobRepo struct {
	schedName string
}

// NewJobRepo создаёт новый JobRepo.
func NewJobRepo(schedName string) *JobRepo {
	return &JobRepo{schedName: schedName}
}

// Insert создаёт новый job.
func (r *JobRepo) Insert(ctx context.Context, db DBTX, job *domain.Job) error {
	jobDataJSON, err := json.Marshal(job.JobData)
	if err != nil {
		return fmt.Errorf("marshal job data: %w", err)
	}

	query := `
		INSERT INTO jobs (sched_name, job_name, job_group, description, is_stateful, requests_recovery,
		                  is_durable, is_volatile, job_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = db.Exec(ctx, query,
		r.schedName,
		job.Key.Name,
		job.Key.Group,
		nullString(job.Description),
		job.Stateful,
		job.RequestsRecovery,
		job.Durable,
		job.Volatile,
		jobDataJSON,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Update обновляет job.
func (r *JobRepo) Update(ctx context.Context, db DBTX, job *domain.Job) error {
	jobDataJSON, err := json.Marshal(job.JobData)
	if err != nil {
		return fmt.Errorf("marshal job data: %w", err)
	}

	query := `
		UPDATE jobs
		SET description = $4, is_stateful = $5, requests_recovery = $6, is_durable = $7,
		    is_volatile = $8, job_data = $9
		WHERE sched_name = $1 AND job_name = $2 AND job_group = $3
	`
	result, err := db.Exec(ctx, query,
		r.schedName,
		job.Key.Name,
		job.Key.Group,
		nullString(job.Description),
		job.Stateful,
		job.RequestsRecovery,
		job.Durable,
		job.Volatile,
		jobDataJSON,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет job.
func (r *JobRepo) Delete(ctx context.Context, db DBTX, key domain.JobKey) error {
	result, err := db.Exec(ctx,
		`DELETE FROM jobs WHERE sched_name = $1 AND job_name = $2 AND job_group = $3`,
		r.schedName, key.Name, key.Group,
	)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindByKey возвращает job по ключу.
func (r *JobRepo) FindByKey(ctx context.Context, db DBTX, key domain.JobKey) (*domain.Job, error) {
	query := `
		SELECT job_name, job_group, description, is_stateful, requests_recovery, is_durable,
		       is_volatile, job_data
		FROM jobs
		WHERE sched_name = $1 AND job_name = $2 AND job_group = $3
	`
	var job domain.Job
	var description *string
	var jobDataJSON []byte

	err := db.QueryRow(ctx, query, r.schedName, key.Name, key.Group).Scan(
		&job.Key.Name,
		&job.Key.Group,
		&description,
		&job.Stateful,
		&job.RequestsRecovery,
		&job.Durable,
		&job.Volatile,
		&jobDataJSON,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	if description != nil {
		job.Description = *description
	}
	if jobDataJSON != nil {
		if err := json.Unmarshal(jobDataJSON, &job.JobData); err != nil {
			return nil, fmt.Errorf("unmarshal job data: %w", err)
		}
	}
	return &job, nil
}
