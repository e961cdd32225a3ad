package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shaiso/jobstore/internal/domain"
)

// TriggerRepo — репозиторий для работы с triggers.
type TriggerRepo struct {
	schedName string
}

// NewTriggerRepo создаёт новый TriggerRepo.
func NewTriggerRepo(schedName string) *TriggerRepo {
	return &TriggerRepo{schedName: schedName}
}

const selectTrigger = `
	SELECT trigger_name, trigger_group, job_name, job_group, state, next_fire_time, prev_fire_time,
	       priority, is_volatile, job_data
	FROM triggers
`

// Insert создаёт новый trigger.
func (r *TriggerRepo) Insert(ctx context.Context, db DBTX, t *domain.Trigger) error {
	jobDataJSON, err := json.Marshal(t.JobData)
	if err != nil {
		return fmt.Errorf("marshal job data: %w", err)
	}

	query := `
		INSERT INTO triggers (sched_name, trigger_name, trigger_group, job_name, job_group, state,
		                      next_fire_time, prev_fire_time, priority, is_volatile, job_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = db.Exec(ctx, query,
		r.schedName,
		t.Key.Name,
		t.Key.Group,
		t.JobKey.Name,
		t.JobKey.Group,
		t.State,
		t.NextFireTime,
		t.PrevFireTime,
		t.Priority,
		t.Volatile,
		jobDataJSON,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert trigger: %w", err)
	}
	return nil
}

// Update обновляет trigger целиком.
func (r *TriggerRepo) Update(ctx context.Context, db DBTX, t *domain.Trigger) error {
	jobDataJSON, err := json.Marshal(t.JobData)
	if err != nil {
		return fmt.Errorf("marshal job data: %w", err)
	}

	query := `
		UPDATE triggers
		SET job_name = $4, job_group = $5, state = $6, next_fire_time = $7, prev_fire_time = $8,
		    priority = $9, is_volatile = $10, job_data = $11
		WHERE sched_name = $1 AND trigger_name = $2 AND trigger_group = $3
	`
	result, err := db.Exec(ctx, query,
		r.schedName,
		t.Key.Name,
		t.Key.Group,
		t.JobKey.Name,
		t.JobKey.Group,
		t.State,
		t.NextFireTime,
		t.PrevFireTime,
		t.Priority,
		t.Volatile,
		jobDataJSON,
	)
	if err != nil {
		return fmt.Errorf("update trigger: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет trigger.
func (r *TriggerRepo) Delete(ctx context.Context, db DBTX, key domain.TriggerKey) error {
	result, err := db.Exec(ctx,
		`DELETE FROM triggers WHERE sched_name = $1 AND trigger_name = $2 AND trigger_group = $3`,
		r.schedName, key.Name, key.Group,
	)
	if err != nil {
		return fmt.Errorf("delete trigger: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindByKey возвращает trigger по ключу.
func (r *TriggerRepo) FindByKey(ctx context.Context, db DBTX, key domain.TriggerKey) (*domain.Trigger, error) {
	query := selectTrigger + `WHERE sched_name = $1 AND trigger_name = $2 AND trigger_group = $3`
	t, err := scanTrigger(db.QueryRow(ctx, query, r.schedName, key.Name, key.Group))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// FindByJobKey возвращает triggers job.
func (r *TriggerRepo) FindByJobKey(ctx context.Context, db DBTX, key domain.JobKey) ([]domain.Trigger, error) {
	query := selectTrigger + `WHERE sched_name = $1 AND job_name = $2 AND job_group = $3 ORDER BY trigger_group, trigger_name`
	return r.list(ctx, db, query, r.schedName, key.Name, key.Group)
}

// FindDue возвращает triggers, готовые к захвату.
func (r *TriggerRepo) FindDue(ctx context.Context, db DBTX, noLaterThan time.Time, limit int) ([]domain.Trigger, error) {
	query := selectTrigger + `
		WHERE sched_name = $1
		  AND state = 'WAITING'
		  AND next_fire_time IS NOT NULL
		  AND next_fire_time <= $2
		ORDER BY next_fire_time ASC, priority DESC
		LIMIT $3
	`
	return r.list(ctx, db, query, r.schedName, noLaterThan, limit)
}

// UpdateStateFrom меняет состояние trigger, если текущее входит в from.
func (r *TriggerRepo) UpdateStateFrom(ctx context.Context, db DBTX, key domain.TriggerKey, state domain.TriggerState, from ...domain.TriggerState) (bool, error) {
	query := `
		UPDATE triggers SET state = $4
		WHERE sched_name = $1 AND trigger_name = $2 AND trigger_group = $3 AND state = ANY($5)
	`
	result, err := db.Exec(ctx, query, r.schedName, key.Name, key.Group, state, stateNames(from))
	if err != nil {
		return false, fmt.Errorf("update trigger state: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// UpdateStatesForJob переводит triggers job из from в state.
func (r *TriggerRepo) UpdateStatesForJob(ctx context.Context, db DBTX, key domain.JobKey, state, from domain.TriggerState) (int, error) {
	query := `
		UPDATE triggers SET state = $4
		WHERE sched_name = $1 AND job_name = $2 AND job_group = $3 AND state = $5
	`
	result, err := db.Exec(ctx, query, r.schedName, key.Name, key.Group, state, from)
	if err != nil {
		return 0, fmt.Errorf("update job trigger states: %w", err)
	}
	return int(result.RowsAffected()), nil
}

func (r *TriggerRepo) list(ctx context.Context, db DBTX, query string, args ...any) ([]domain.Trigger, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	defer rows.Close()

	var triggers []domain.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, *t)
	}
	return triggers, rows.Err()
}

func scanTrigger(row pgx.Row) (*domain.Trigger, error) {
	var t domain.Trigger
	var jobDataJSON []byte

	err := row.Scan(
		&t.Key.Name,
		&t.Key.Group,
		&t.JobKey.Name,
		&t.JobKey.Group,
		&t.State,
		&t.NextFireTime,
		&t.PrevFireTime,
		&t.Priority,
		&t.Volatile,
		&jobDataJSON,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan trigger: %w", err)
	}

	if jobDataJSON != nil {
		if err := json.Unmarshal(jobDataJSON, &t.JobData); err != nil {
			return nil, fmt.Errorf("unmarshal job data: %w", err)
		}
	}
	return &t, nil
}

func stateNames(states []domain.TriggerState) []string {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}
	return names
}
