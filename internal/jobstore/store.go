package jobstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/jobstore/internal/domain"
	"github.com/shaiso/jobstore/internal/lock"
	"github.com/shaiso/jobstore/internal/repo"
)

var (
	// ErrJobNotFound — job для trigger не найден.
	ErrJobNotFound = errors.New("job not found")

	// ErrTriggerNotAcquired — trigger уже не в состоянии ACQUIRED
	// (его освободило восстановление или он удалён).
	ErrTriggerNotAcquired = errors.New("trigger not acquired")

	// ErrFiredTriggerNotFound — эпизод уже закрыт или разобран восстановлением.
	ErrFiredTriggerNotFound = errors.New("fired trigger not found")
)

// Store — хранилище jobs и triggers с учётом эпизодов срабатывания.
type Store struct {
	stores     repo.Stores
	exec       *lock.Executor
	instanceID string
	logger     *slog.Logger
	now        func() time.Time
}

// Config — конфигурация Store.
type Config struct {
	Stores    repo.Stores
	Semaphore lock.Semaphore

	// InstanceID — инстанс, от имени которого захватываются triggers.
	InstanceID string

	// AcquireTimeout — предел ожидания TRIGGER_ACCESS. 0 — без предела.
	AcquireTimeout time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// New создаёт новый Store.
func New(cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Store{
		stores: cfg.Stores,
		exec: &lock.Executor{
			DB:             cfg.Stores.DB,
			Sem:            cfg.Semaphore,
			AcquireTimeout: cfg.AcquireTimeout,
		},
		instanceID: cfg.InstanceID,
		logger:     logger,
		now:        now,
	}
}

// FiredBundle — всё, что нужно исполнителю для запуска job.
type FiredBundle struct {
	Fired   domain.FiredTrigger
	Trigger domain.Trigger
	Job     domain.Job

	// Recovering — эпизод перезапускает job упавшего инстанса.
	Recovering bool
}

// withTriggerAccess выполняет fn в транзакции под TRIGGER_ACCESS.
func (s *Store) withTriggerAccess(ctx context.Context, fn func(ctx context.Context, db repo.DBTX) error) error {
	return s.exec.Run(ctx, []string{lock.TriggerAccess}, fn)
}

// StoreJob сохраняет job. replace=false — ошибка, если job уже есть.
func (s *Store) StoreJob(ctx context.Context, job *domain.Job, replace bool) error {
	if job.Key.Name == "" {
		return fmt.Errorf("%w: empty job name", repo.ErrInvalidState)
	}

	return s.withTriggerAccess(ctx, func(ctx context.Context, db repo.DBTX) error {
		err := s.stores.Jobs.Insert(ctx, db, job)
		if errors.Is(err, repo.ErrAlreadyExists) && replace {
			err = s.stores.Jobs.Update(ctx, db, job)
		}
		if err != nil {
			return fmt.Errorf("store job %s: %w", job.Key, err)
		}
		return nil
	})
}

// StoreTrigger сохраняет trigger. replace=false — ошибка, если trigger уже есть.
//
// Новый trigger получает WAITING, а если его stateful job сейчас
// выполняется — BLOCKED.
func (s *Store) StoreTrigger(ctx context.Context, trigger *domain.Trigger, replace bool) error {
	if trigger.Key.Name == "" {
		return fmt.Errorf("%w: empty trigger name", repo.ErrInvalidState)
	}

	return s.withTriggerAccess(ctx, func(ctx context.Context, db repo.DBTX) error {
		job, err := s.stores.Jobs.FindByKey(ctx, db, trigger.JobKey)
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, trigger.JobKey)
		}
		if err != nil {
			return err
		}

		if trigger.State == "" {
			trigger.State = domain.TriggerStateWaiting
		}
		if job.Stateful {
			executing, err := s.jobExecuting(ctx, db, job.Key)
			if err != nil {
				return err
			}
			if executing {
				trigger.State = blockedState(trigger.State)
			}
		}

		err = s.stores.Triggers.Insert(ctx, db, trigger)
		if errors.Is(err, repo.ErrAlreadyExists) && replace {
			err = s.stores.Triggers.Update(ctx, db, trigger)
		}
		if err != nil {
			return fmt.Errorf("store trigger %s: %w", trigger.Key, err)
		}
		return nil
	})
}

// RemoveTrigger удаляет trigger и non-durable job без triggers.
func (s *Store) RemoveTrigger(ctx context.Context, key domain.TriggerKey) error {
	return s.withTriggerAccess(ctx, func(ctx context.Context, db repo.DBTX) error {
		return s.stores.RemoveTrigger(ctx, db, key)
	})
}

// AcquireNextTriggers захватывает до max triggers, которые должны
// сработать не позже noLaterThan, и записывает для каждого эпизод ACQUIRED.
//
// Для stateful job захватывается не больше одного trigger за вызов.
func (s *Store) AcquireNextTriggers(ctx context.Context, noLaterThan time.Time, max int) ([]domain.FiredTrigger, error) {
	if max <= 0 {
		max = 1
	}

	var acquired []domain.FiredTrigger
	err := s.withTriggerAccess(ctx, func(ctx context.Context, db repo.DBTX) error {
		acquired = nil

		due, err := s.stores.Triggers.FindDue(ctx, db, noLaterThan, max)
		if err != nil {
			return fmt.Errorf("find due triggers: %w", err)
		}

		statefulSeen := make(map[domain.JobKey]bool)
		now := s.now()

		for i := range due {
			t := &due[i]

			job, err := s.stores.Jobs.FindByKey(ctx, db, t.JobKey)
			if errors.Is(err, repo.ErrNotFound) {
				s.logger.Warn("trigger references missing job, moving to ERROR",
					"trigger_key", t.Key.String(),
					"job_key", t.JobKey.String(),
				)
				if _, err := s.stores.Triggers.UpdateStateFrom(ctx, db, t.Key, domain.TriggerStateError, domain.TriggerStateWaiting); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return fmt.Errorf("find job %s: %w", t.JobKey, err)
			}

			if job.Stateful {
				if statefulSeen[job.Key] {
					continue
				}
				statefulSeen[job.Key] = true
			}

			ok, err := s.stores.Triggers.UpdateStateFrom(ctx, db, t.Key, domain.TriggerStateAcquired, domain.TriggerStateWaiting)
			if err != nil {
				return fmt.Errorf("acquire trigger %s: %w", t.Key, err)
			}
			if !ok {
				continue
			}

			ft := domain.FiredTrigger{
				FireInstanceID:      uuid.NewString(),
				TriggerKey:          t.Key,
				JobKey:              t.JobKey,
				SchedulerInstanceID: s.instanceID,
				FireTimestamp:       now,
				ScheduledTime:       t.NextFireTime,
				Priority:            t.Priority,
				State:               domain.FireStateAcquired,
				JobIsStateful:       job.Stateful,
				JobRequestsRecovery: job.RequestsRecovery,
				TriggerIsVolatile:   t.Volatile || job.Volatile,
			}
			if err := s.stores.FiredTriggers.Insert(ctx, db, &ft); err != nil {
				return fmt.Errorf("insert fired trigger: %w", err)
			}
			acquired = append(acquired, ft)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(acquired) > 0 {
		s.logger.Debug("acquired triggers", "count", len(acquired))
	}
	return acquired, nil
}

// TriggerFired переводит эпизод в EXECUTING и сдвигает trigger
// на следующее срабатывание. nextFireTime == nil — срабатываний больше нет.
//
// Возвращает ErrTriggerNotAcquired, если trigger успели освободить или
// stateful job уже выполняется в другом эпизоде. Во втором случае trigger
// блокируется до завершения job, а эпизод удаляется.
func (s *Store) TriggerFired(ctx context.Context, fired *domain.FiredTrigger, nextFireTime *time.Time) (*FiredBundle, error) {
	var (
		bundle  *FiredBundle
		blocked bool
	)
	err := s.withTriggerAccess(ctx, func(ctx context.Context, db repo.DBTX) error {
		blocked = false
		ft, err := s.stores.FiredTriggers.FindByKey(ctx, db, fired.FireInstanceID)
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrFiredTriggerNotFound, fired.FireInstanceID)
		}
		if err != nil {
			return err
		}

		trigger, err := s.stores.Triggers.FindByKey(ctx, db, ft.TriggerKey)
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s deleted", ErrTriggerNotAcquired, ft.TriggerKey)
		}
		if err != nil {
			return err
		}
		if trigger.State != domain.TriggerStateAcquired {
			return fmt.Errorf("%w: %s is %s", ErrTriggerNotAcquired, ft.TriggerKey, trigger.State)
		}

		job, err := s.stores.Jobs.FindByKey(ctx, db, ft.JobKey)
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, ft.JobKey)
		}
		if err != nil {
			return err
		}

		if job.Stateful {
			executing, err := s.jobExecuting(ctx, db, job.Key)
			if err != nil {
				return err
			}
			if executing {
				blocked = true
				return s.deferFire(ctx, db, ft)
			}
		}

		ft.State = domain.FireStateExecuting
		if err := s.stores.FiredTriggers.Update(ctx, db, ft); err != nil {
			return fmt.Errorf("update fired trigger: %w", err)
		}

		trigger.PrevFireTime = trigger.NextFireTime
		trigger.NextFireTime = nextFireTime
		switch {
		case nextFireTime == nil:
			trigger.State = domain.TriggerStateComplete
		case job.Stateful:
			trigger.State = domain.TriggerStateBlocked
		default:
			trigger.State = domain.TriggerStateWaiting
		}
		if err := s.stores.Triggers.Update(ctx, db, trigger); err != nil {
			return fmt.Errorf("update trigger: %w", err)
		}

		if job.Stateful {
			if err := s.blockJob(ctx, db, job.Key); err != nil {
				return err
			}
		}

		bundle = &FiredBundle{
			Fired:      *ft,
			Trigger:    *trigger,
			Job:        *job,
			Recovering: trigger.IsRecovery(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, fmt.Errorf("%w: job %s is executing", ErrTriggerNotAcquired, fired.JobKey)
	}
	return bundle, nil
}

// deferFire откладывает эпизод stateful job, который уже выполняется:
// trigger уходит в BLOCKED, строка эпизода удаляется.
func (s *Store) deferFire(ctx context.Context, db repo.DBTX, ft *domain.FiredTrigger) error {
	if _, err := s.stores.Triggers.UpdateStateFrom(ctx, db, ft.TriggerKey,
		domain.TriggerStateBlocked, domain.TriggerStateAcquired); err != nil {
		return fmt.Errorf("block trigger %s: %w", ft.TriggerKey, err)
	}
	if err := s.stores.FiredTriggers.Delete(ctx, db, ft.FireInstanceID); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("delete fired trigger: %w", err)
	}
	s.logger.Debug("stateful job is executing, trigger blocked",
		"trigger_key", ft.TriggerKey.String(),
		"job_key", ft.JobKey.String(),
	)
	return nil
}

// TriggeredJobComplete закрывает эпизод: строка удаляется, stateful job
// разблокируется, завершённый trigger удаляется.
func (s *Store) TriggeredJobComplete(ctx context.Context, fired *domain.FiredTrigger) error {
	return s.withTriggerAccess(ctx, func(ctx context.Context, db repo.DBTX) error {
		ft, err := s.stores.FiredTriggers.FindByKey(ctx, db, fired.FireInstanceID)
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrFiredTriggerNotFound, fired.FireInstanceID)
		}
		if err != nil {
			return err
		}

		if err := s.stores.FiredTriggers.Delete(ctx, db, ft.FireInstanceID); err != nil {
			return fmt.Errorf("delete fired trigger: %w", err)
		}

		if ft.JobIsStateful {
			if err := s.unblockJob(ctx, db, ft.JobKey); err != nil {
				return err
			}
		}

		trigger, err := s.stores.Triggers.FindByKey(ctx, db, ft.TriggerKey)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if trigger.State == domain.TriggerStateComplete {
			return s.stores.RemoveTrigger(ctx, db, trigger.Key)
		}
		return nil
	})
}

// ReleaseAcquiredTrigger возвращает захваченный, но не запущенный trigger
// в WAITING и удаляет эпизод. Если эпизода уже нет, trigger не трогается.
func (s *Store) ReleaseAcquiredTrigger(ctx context.Context, fired *domain.FiredTrigger) error {
	return s.withTriggerAccess(ctx, func(ctx context.Context, db repo.DBTX) error {
		ft, err := s.stores.FiredTriggers.FindByKey(ctx, db, fired.FireInstanceID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if ft.State == domain.FireStateAcquired {
			if _, err := s.stores.Triggers.UpdateStateFrom(ctx, db, ft.TriggerKey,
				domain.TriggerStateWaiting, domain.TriggerStateAcquired); err != nil {
				return fmt.Errorf("release trigger %s: %w", ft.TriggerKey, err)
			}
		}

		if err := s.stores.FiredTriggers.Delete(ctx, db, ft.FireInstanceID); err != nil && !errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("delete fired trigger: %w", err)
		}
		return nil
	})
}

// jobExecuting проверяет, есть ли у job эпизод в EXECUTING.
func (s *Store) jobExecuting(ctx context.Context, db repo.DBTX, key domain.JobKey) (bool, error) {
	rows, err := s.stores.FiredTriggers.FindByJobKey(ctx, db, key)
	if err != nil {
		return false, fmt.Errorf("find fired triggers of %s: %w", key, err)
	}
	for _, row := range rows {
		if row.State == domain.FireStateExecuting {
			return true, nil
		}
	}
	return false, nil
}

// blockJob блокирует остальные triggers stateful job, в том числе
// захваченные другими инстансами.
func (s *Store) blockJob(ctx context.Context, db repo.DBTX, key domain.JobKey) error {
	if _, err := s.stores.Triggers.UpdateStatesForJob(ctx, db, key, domain.TriggerStateBlocked, domain.TriggerStateAcquired); err != nil {
		return fmt.Errorf("block acquired triggers of %s: %w", key, err)
	}
	if _, err := s.stores.Triggers.UpdateStatesForJob(ctx, db, key, domain.TriggerStateBlocked, domain.TriggerStateWaiting); err != nil {
		return fmt.Errorf("block triggers of %s: %w", key, err)
	}
	if _, err := s.stores.Triggers.UpdateStatesForJob(ctx, db, key, domain.TriggerStatePausedBlocked, domain.TriggerStatePaused); err != nil {
		return fmt.Errorf("block paused triggers of %s: %w", key, err)
	}
	return nil
}

// unblockJob снимает блокировку с triggers stateful job.
func (s *Store) unblockJob(ctx context.Context, db repo.DBTX, key domain.JobKey) error {
	if _, err := s.stores.Triggers.UpdateStatesForJob(ctx, db, key, domain.TriggerStateWaiting, domain.TriggerStateBlocked); err != nil {
		return fmt.Errorf("unblock triggers of %s: %w", key, err)
	}
	if _, err := s.stores.Triggers.UpdateStatesForJob(ctx, db, key, domain.TriggerStatePaused, domain.TriggerStatePausedBlocked); err != nil {
		return fmt.Errorf("unblock paused triggers of %s: %w", key, err)
	}
	return nil
}

// blockedState — состояние нового trigger при выполняющемся stateful job.
func blockedState(state domain.TriggerState) domain.TriggerState {
	if state == domain.TriggerStatePaused {
		return domain.TriggerStatePausedBlocked
	}
	return domain.TriggerStateBlocked
}
