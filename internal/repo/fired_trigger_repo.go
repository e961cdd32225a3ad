package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shaiso/jobstore/internal/domain"
)

// FiredTriggerRepo — репозиторий для таблицы fired_triggers.
type FiredTriggerRepo struct {
	schedName string
}

// NewFiredTriggerRepo создаёт новый FiredTriggerRepo.
func NewFiredTriggerRepo(schedName string) *FiredTriggerRepo {
	return &FiredTriggerRepo{schedName: schedName}
}

const selectFiredTrigger = `
	SELECT fire_instance_id, trigger_name, trigger_group, job_name, job_group, instance_id,
	       fire_timestamp, scheduled_time, priority, state, is_stateful, requests_recovery, is_volatile
	FROM fired_triggers
`

// Insert создаёт запись об эпизоде срабатывания.
func (r *FiredTriggerRepo) Insert(ctx context.Context, db DBTX, ft *domain.FiredTrigger) error {
	if !ft.State.IsPersistable() {
		return fmt.Errorf("%w: fired trigger state %s", ErrInvalidState, ft.State)
	}

	query := `
		INSERT INTO fired_triggers (sched_name, fire_instance_id, trigger_name, trigger_group, job_name, job_group,
		                            instance_id, fire_timestamp, scheduled_time, priority, state,
		                            is_stateful, requests_recovery, is_volatile)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := db.Exec(ctx, query,
		r.schedName,
		ft.FireInstanceID,
		ft.TriggerKey.Name,
		ft.TriggerKey.Group,
		ft.JobKey.Name,
		ft.JobKey.Group,
		ft.SchedulerInstanceID,
		ft.FireTimestamp,
		ft.ScheduledTime,
		ft.Priority,
		ft.State,
		ft.JobIsStateful,
		ft.JobRequestsRecovery,
		ft.TriggerIsVolatile,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert fired trigger: %w", err)
	}
	return nil
}

// Update обновляет состояние эпизода.
func (r *FiredTriggerRepo) Update(ctx context.Context, db DBTX, ft *domain.FiredTrigger) error {
	if !ft.State.IsPersistable() {
		return fmt.Errorf("%w: fired trigger state %s", ErrInvalidState, ft.State)
	}

	query := `
		UPDATE fired_triggers
		SET instance_id = $3, fire_timestamp = $4, scheduled_time = $5, priority = $6, state = $7,
		    is_stateful = $8, requests_recovery = $9, is_volatile = $10
		WHERE sched_name = $1 AND fire_instance_id = $2
	`
	result, err := db.Exec(ctx, query,
		r.schedName,
		ft.FireInstanceID,
		ft.SchedulerInstanceID,
		ft.FireTimestamp,
		ft.ScheduledTime,
		ft.Priority,
		ft.State,
		ft.JobIsStateful,
		ft.JobRequestsRecovery,
		ft.TriggerIsVolatile,
	)
	if err != nil {
		return fmt.Errorf("update fired trigger: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete закрывает эпизод (удаляет строку).
func (r *FiredTriggerRepo) Delete(ctx context.Context, db DBTX, fireInstanceID string) error {
	result, err := db.Exec(ctx,
		`DELETE FROM fired_triggers WHERE sched_name = $1 AND fire_instance_id = $2`,
		r.schedName, fireInstanceID,
	)
	if err != nil {
		return fmt.Errorf("delete fired trigger: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindByKey возвращает эпизод по fire_instance_id.
func (r *FiredTriggerRepo) FindByKey(ctx context.Context, db DBTX, fireInstanceID string) (*domain.FiredTrigger, error) {
	query := selectFiredTrigger + `WHERE sched_name = $1 AND fire_instance_id = $2`
	ft, err := scanFiredTrigger(db.QueryRow(ctx, query, r.schedName, fireInstanceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ft, err
}

// FindBySchedulerInstanceID возвращает эпизоды инстанса.
func (r *FiredTriggerRepo) FindBySchedulerInstanceID(ctx context.Context, db DBTX, instanceID string) ([]domain.FiredTrigger, error) {
	query := selectFiredTrigger + `WHERE sched_name = $1 AND instance_id = $2 ORDER BY fire_timestamp ASC`
	return r.list(ctx, db, query, r.schedName, instanceID)
}

// FindByJobKey возвращает эпизоды job.
func (r *FiredTriggerRepo) FindByJobKey(ctx context.Context, db DBTX, key domain.JobKey) ([]domain.FiredTrigger, error) {
	query := selectFiredTrigger + `WHERE sched_name = $1 AND job_name = $2 AND job_group = $3 ORDER BY fire_timestamp ASC`
	return r.list(ctx, db, query, r.schedName, key.Name, key.Group)
}

// FindAll возвращает все эпизоды кластера.
func (r *FiredTriggerRepo) FindAll(ctx context.Context, db DBTX) ([]domain.FiredTrigger, error) {
	query := selectFiredTrigger + `WHERE sched_name = $1 ORDER BY fire_timestamp ASC`
	return r.list(ctx, db, query, r.schedName)
}

func (r *FiredTriggerRepo) list(ctx context.Context, db DBTX, query string, args ...any) ([]domain.FiredTrigger, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list fired triggers: %w", err)
	}
	defer rows.Close()

	var result []domain.FiredTrigger
	for rows.Next() {
		ft, err := scanFiredTrigger(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ft)
	}
	return result, rows.Err()
}

func scanFiredTrigger(row pgx.Row) (*domain.FiredTrigger, error) {
	var ft domain.FiredTrigger
	err := row.Scan(
		&ft.FireInstanceID,
		&ft.TriggerKey.Name,
		&ft.TriggerKey.Group,
		&ft.JobKey.Name,
		&ft.JobKey.Group,
		&ft.SchedulerInstanceID,
		&ft.FireTimestamp,
		&ft.ScheduledTime,
		&ft.Priority,
		&ft.State,
		&ft.JobIsStateful,
		&ft.JobRequestsRecovery,
		&ft.TriggerIsVolatile,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan fired trigger: %w", err)
	}
	return &ft, nil
}
