package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/jobstore/internal/domain"
)

// SchedulerStates — доступ к записям живости инстансов.
type SchedulerStates interface {
	Insert(ctx context.Context, db DBTX, state *domain.SchedulerState) error
	Update(ctx context.Context, db DBTX, state *domain.SchedulerState) error
	Delete(ctx context.Context, db DBTX, instanceID string) error
	FindByKey(ctx context.Context, db DBTX, instanceID string) (*domain.SchedulerState, error)
	FindAll(ctx context.Context, db DBTX) ([]domain.SchedulerState, error)

	// ClaimRecovery атомарно выставляет recoverer_id = recovererID, если
	// инстанс не делал check-in после observedCheckin и маркер либо пуст,
	// либо уже наш, либо выставлен раньше staleBefore.
	// false — гонку выиграл кто-то другой или инстанс ожил.
	ClaimRecovery(ctx context.Context, db DBTX, instanceID, recovererID string, observedCheckin, now, staleBefore time.Time) (bool, error)
}

// FiredTriggers — доступ к записям эпизодов срабатывания.
type FiredTriggers interface {
	Insert(ctx context.Context, db DBTX, ft *domain.FiredTrigger) error
	Update(ctx context.Context, db DBTX, ft *domain.FiredTrigger) error
	Delete(ctx context.Context, db DBTX, fireInstanceID string) error
	FindByKey(ctx context.Context, db DBTX, fireInstanceID string) (*domain.FiredTrigger, error)
	FindBySchedulerInstanceID(ctx context.Context, db DBTX, instanceID string) ([]domain.FiredTrigger, error)
	FindByJobKey(ctx context.Context, db DBTX, key domain.JobKey) ([]domain.FiredTrigger, error)
	FindAll(ctx context.Context, db DBTX) ([]domain.FiredTrigger, error)
}

// Triggers — доступ к triggers.
type Triggers interface {
	Insert(ctx context.Context, db DBTX, t *domain.Trigger) error
	Update(ctx context.Context, db DBTX, t *domain.Trigger) error
	Delete(ctx context.Context, db DBTX, key domain.TriggerKey) error
	FindByKey(ctx context.Context, db DBTX, key domain.TriggerKey) (*domain.Trigger, error)
	FindByJobKey(ctx context.Context, db DBTX, key domain.JobKey) ([]domain.Trigger, error)

	// FindDue возвращает WAITING triggers с next_fire_time <= noLaterThan,
	// по возрастанию времени и убыванию приоритета.
	FindDue(ctx context.Context, db DBTX, noLaterThan time.Time, limit int) ([]domain.Trigger, error)

	// UpdateStateFrom меняет состояние, только если текущее входит в from.
	UpdateStateFrom(ctx context.Context, db DBTX, key domain.TriggerKey, state domain.TriggerState, from ...domain.TriggerState) (bool, error)

	// UpdateStatesForJob переводит все triggers job из from в state.
	UpdateStatesForJob(ctx context.Context, db DBTX, key domain.JobKey, state, from domain.TriggerState) (int, error)
}

// Jobs — доступ к jobs.
type Jobs interface {
	Insert(ctx context.Context, db DBTX, job *domain.Job) error
	Update(ctx context.Context, db DBTX, job *domain.Job) error
	Delete(ctx context.Context, db DBTX, key domain.JobKey) error
	FindByKey(ctx context.Context, db DBTX, key domain.JobKey) (*domain.Job, error)
}

// Stores — набор репозиториев одного хранилища.
type Stores struct {
	DB TxRunner

	// Conn — соединение вне транзакции для диагностических чтений.
	Conn DBTX

	SchedulerStates SchedulerStates
	FiredTriggers   FiredTriggers
	Triggers        Triggers
	Jobs            Jobs
}

// NewPostgresStores собирает Stores поверх PostgreSQL для кластера schedName.
func NewPostgresStores(db *DB, schedName string) Stores {
	return Stores{
		DB:              db,
		Conn:            db.Pool(),
		SchedulerStates: NewSchedulerStateRepo(schedName),
		FiredTriggers:   NewFiredTriggerRepo(schedName),
		Triggers:        NewTriggerRepo(schedName),
		Jobs:            NewJobRepo(schedName),
	}
}

// RemoveTrigger удаляет trigger и его job, если job не durable
// и других triggers у него не осталось.
func (s Stores) RemoveTrigger(ctx context.Context, db DBTX, key domain.TriggerKey) error {
	t, err := s.Triggers.FindByKey(ctx, db, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find trigger %s: %w", key, err)
	}

	if err := s.Triggers.Delete(ctx, db, key); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete trigger %s: %w", key, err)
	}

	job, err := s.Jobs.FindByKey(ctx, db, t.JobKey)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find job %s: %w", t.JobKey, err)
	}
	if job.Durable {
		return nil
	}

	remaining, err := s.Triggers.FindByJobKey(ctx, db, t.JobKey)
	if err != nil {
		return fmt.Errorf("find triggers of %s: %w", t.JobKey, err)
	}
	if len(remaining) > 0 {
		return nil
	}

	if err := s.Jobs.Delete(ctx, db, t.JobKey); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete job %s: %w", t.JobKey, err)
	}
	return nil
}
