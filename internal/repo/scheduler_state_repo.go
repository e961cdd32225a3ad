package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shaiso/jobstore/internal/domain"
)

// SchedulerStateRepo — репозиторий для таблицы scheduler_state.
type SchedulerStateRepo struct {
	schedName string
}

// NewSchedulerStateRepo создаёт новый SchedulerStateRepo.
func NewSchedulerStateRepo(schedName string) *SchedulerStateRepo {
	return &SchedulerStateRepo{schedName: schedName}
}

const selectSchedulerState = `
	SELECT instance_id, last_checkin_time, checkin_interval_ms, recoverer_id, recovery_started_at
	FROM scheduler_state
`

// Insert создаёт запись о живости инстанса.
func (r *SchedulerStateRepo) Insert(ctx context.Context, db DBTX, state *domain.SchedulerState) error {
	query := `
		INSERT INTO scheduler_state (sched_name, instance_id, last_checkin_time, checkin_interval_ms,
		                             recoverer_id, recovery_started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := db.Exec(ctx, query,
		r.schedName,
		state.InstanceID,
		state.LastCheckinTime,
		state.CheckinInterval.Milliseconds(),
		nullString(state.RecovererID),
		state.RecoveryStartedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert scheduler state: %w", err)
	}
	return nil
}

// Update обновляет запись (check-in).
func (r *SchedulerStateRepo) Update(ctx context.Context, db DBTX, state *domain.SchedulerState) error {
	query := `
		UPDATE scheduler_state
		SET last_checkin_time = $3, checkin_interval_ms = $4, recoverer_id = $5, recovery_started_at = $6
		WHERE sched_name = $1 AND instance_id = $2
	`
	result, err := db.Exec(ctx, query,
		r.schedName,
		state.InstanceID,
		state.LastCheckinTime,
		state.CheckinInterval.Milliseconds(),
		nullString(state.RecovererID),
		state.RecoveryStartedAt,
	)
	if err != nil {
		return fmt.Errorf("update scheduler state: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет запись инстанса.
func (r *SchedulerStateRepo) Delete(ctx context.Context, db DBTX, instanceID string) error {
	result, err := db.Exec(ctx,
		`DELETE FROM scheduler_state WHERE sched_name = $1 AND instance_id = $2`,
		r.schedName, instanceID,
	)
	if err != nil {
		return fmt.Errorf("delete scheduler state: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindByKey возвращает запись по instance_id.
func (r *SchedulerStateRepo) FindByKey(ctx context.Context, db DBTX, instanceID string) (*domain.SchedulerState, error) {
	query := selectSchedulerState + `WHERE sched_name = $1 AND instance_id = $2`
	state, err := scanSchedulerState(db.QueryRow(ctx, query, r.schedName, instanceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return state, err
}

// FindAll возвращает все записи кластера.
func (r *SchedulerStateRepo) FindAll(ctx context.Context, db DBTX) ([]domain.SchedulerState, error) {
	query := selectSchedulerState + `WHERE sched_name = $1 ORDER BY instance_id`
	rows, err := db.Query(ctx, query, r.schedName)
	if err != nil {
		return nil, fmt.Errorf("list scheduler states: %w", err)
	}
	defer rows.Close()

	var states []domain.SchedulerState
	for rows.Next() {
		state, err := scanSchedulerState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, *state)
	}
	return states, rows.Err()
}

// ClaimRecovery выставляет маркер восстановления (compare-and-set).
func (r *SchedulerStateRepo) ClaimRecovery(ctx context.Context, db DBTX, instanceID, recovererID string, observedCheckin, now, staleBefore time.Time) (bool, error) {
	query := `
		UPDATE scheduler_state
		SET recoverer_id = $3, recovery_started_at = $4
		WHERE sched_name = $1 AND instance_id = $2
		  AND last_checkin_time = $5
		  AND (recoverer_id IS NULL OR recoverer_id = $3 OR recovery_started_at IS NULL OR recovery_started_at < $6)
	`
	result, err := db.Exec(ctx, query, r.schedName, instanceID, recovererID, now, observedCheckin, staleBefore)
	if err != nil {
		return false, fmt.Errorf("claim recovery: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

func scanSchedulerState(row pgx.Row) (*domain.SchedulerState, error) {
	var s domain.SchedulerState
	var intervalMs int64
	var recovererID *string

	err := row.Scan(
		&s.InstanceID,
		&s.LastCheckinTime,
		&intervalMs,
		&recovererID,
		&s.RecoveryStartedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan scheduler state: %w", err)
	}

	s.CheckinInterval = time.Duration(intervalMs) * time.Millisecond
	if recovererID != nil {
		s.RecovererID = *recovererID
	}
	return &s, nil
}

// nullString возвращает nil для пустой строки.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
