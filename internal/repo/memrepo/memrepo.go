// Package memrepo — хранилище в памяти с теми же интерфейсами, что и
// PostgreSQL-репозитории.
//
// Используется некластерным инстансом и в тестах. Транзакций нет:
// InTx вызывает функцию напрямую, атомарность обеспечивают именованные
// блокировки планировщика.
package memrepo

import (
	"context"
	"sync"

	"github.com/shaiso/jobstore/internal/domain"
	"github.com/shaiso/jobstore/internal/repo"
)

// DB — хранилище в памяти.
type DB struct {
	mu       sync.RWMutex
	states   map[string]domain.SchedulerState
	fired    map[string]domain.FiredTrigger
	triggers map[domain.TriggerKey]domain.Trigger
	jobs     map[domain.JobKey]domain.Job
}

// New создаёт пустое хранилище.
func New() *DB {
	return &DB{
		states:   make(map[string]domain.SchedulerState),
		fired:    make(map[string]domain.FiredTrigger),
		triggers: make(map[domain.TriggerKey]domain.Trigger),
		jobs:     make(map[domain.JobKey]domain.Job),
	}
}

// InTx вызывает fn без транзакции.
func (d *DB) InTx(ctx context.Context, fn func(db repo.DBTX) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(nil)
}

// Stores возвращает набор репозиториев поверх этого хранилища.
func (d *DB) Stores() repo.Stores {
	return repo.Stores{
		DB:              d,
		SchedulerStates: d.SchedulerStates(),
		FiredTriggers:   d.FiredTriggers(),
		Triggers:        d.Triggers(),
		Jobs:            d.Jobs(),
	}
}

// SchedulerStates возвращает репозиторий записей живости.
func (d *DB) SchedulerStates() *SchedulerStateRepo {
	return &SchedulerStateRepo{db: d}
}

// FiredTriggers возвращает репозиторий эпизодов срабатывания.
func (d *DB) FiredTriggers() *FiredTriggerRepo {
	return &FiredTriggerRepo{db: d}
}

// Triggers возвращает репозиторий triggers.
func (d *DB) Triggers() *TriggerRepo {
	return &TriggerRepo{db: d}
}

// Jobs возвращает репозиторий jobs.
func (d *DB) Jobs() *JobRepo {
	return &JobRepo{db: d}
}
