package cluster

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/shaiso/jobstore/internal/domain"
	"github.com/shaiso/jobstore/internal/lock"
	"github.com/shaiso/jobstore/internal/mq"
	"github.com/shaiso/jobstore/internal/repo"
	"github.com/shaiso/jobstore/internal/telemetry"
)

// RecoveryResult — итог одного цикла.
type RecoveryResult struct {
	// CheckinTime — время записанного check-in.
	CheckinTime time.Time `json:"checkin_time"`

	// Recovered — разобранные упавшие инстансы.
	Recovered []string `json:"recovered"`

	// Skipped — инстансы, которые восстанавливает кто-то другой.
	Skipped []string `json:"skipped,omitempty"`

	Refired  int `json:"refired"`
	Released int `json:"released"`
	Deleted  int `json:"deleted"`
}

// checkinError — сбой записи check-in.
type checkinError struct {
	err error
}

func (e *checkinError) Error() string { return "checkin: " + e.err.Error() }
func (e *checkinError) Unwrap() error { return e.err }

// failedInstance — кандидат на восстановление.
type failedInstance struct {
	state domain.SchedulerState

	// orphan — строки живости нет, остались только fired_triggers.
	orphan bool

	// self — собственные fired_triggers прошлого запуска.
	self bool
}

// instanceRecovery — итог разбора одного инстанса.
type instanceRecovery struct {
	fired    int
	refired  int
	released int
	deleted  int
	events   []mq.TriggerRecoveredPayload
}

// RunRecoveryCycle выполняет один цикл: check-in и восстановление
// упавших инстансов.
//
// Сбой хранилища прерывает цикл, блокировки отпускаются, уже
// зафиксированный разбор отдельных инстансов сохраняется.
func (c *Coordinator) RunRecoveryCycle(ctx context.Context) (RecoveryResult, error) {
	if c.IsStopped() {
		return RecoveryResult{}, ErrCoordinatorStopped
	}

	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	start := time.Now()
	result, err := c.runCycle(ctx)
	c.metrics.RecoveryDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		c.metrics.RecoveryCycles.WithLabelValues(telemetry.CycleError).Inc()
		return result, err
	}
	c.metrics.RecoveryCycles.WithLabelValues(telemetry.CycleOK).Inc()
	return result, nil
}

func (c *Coordinator) runCycle(ctx context.Context) (RecoveryResult, error) {
	var result RecoveryResult

	// 1. Check-in под STATE_ACCESS
	var pending bool
	err := c.exec.Run(ctx, []string{lock.StateAccess}, func(ctx context.Context, db repo.DBTX) error {
		now := c.now()

		failed, _, err := c.findFailed(ctx, db, now)
		if err != nil {
			return err
		}
		pending = len(failed) > 0

		if err := c.checkin(ctx, db, now); err != nil {
			return err
		}
		result.CheckinTime = now
		return nil
	})
	if err != nil {
		return result, &checkinError{err: err}
	}
	c.registered = true
	c.metrics.Checkins.Inc()

	if !pending {
		return result, nil
	}

	// 2. Восстановление под TRIGGER_ACCESS и STATE_ACCESS.
	// Список перечитывается: пока ждали блокировки, кто-то мог уже всё разобрать.
	err = c.exec.Run(ctx, []string{lock.TriggerAccess, lock.StateAccess}, func(ctx context.Context, db repo.DBTX) error {
		now := c.now()

		failed, states, err := c.findFailed(ctx, db, now)
		if err != nil {
			return err
		}

		for i := range failed {
			f := &failed[i]

			if err := ctx.Err(); err != nil {
				return err
			}

			claimed, err := c.claim(ctx, f, states, now)
			if err != nil {
				return fmt.Errorf("claim %s: %w", f.state.InstanceID, err)
			}
			if !claimed {
				result.Skipped = append(result.Skipped, f.state.InstanceID)
				continue
			}

			var rec instanceRecovery
			err = c.stores.DB.InTx(ctx, func(db repo.DBTX) error {
				var err error
				rec, err = c.recoverInstance(ctx, db, f, now)
				return err
			})
			if err != nil {
				return fmt.Errorf("recover %s: %w", f.state.InstanceID, err)
			}

			if f.self {
				c.selfRecovered = true
			} else {
				result.Recovered = append(result.Recovered, f.state.InstanceID)
				c.metrics.FailedInstances.Inc()
			}
			result.Refired += rec.refired
			result.Released += rec.released
			result.Deleted += rec.deleted

			c.publishRecovery(ctx, f, rec)
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	if len(result.Recovered) > 0 {
		c.logger.Info("cluster recovery completed",
			"recovered", result.Recovered,
			"refired", result.Refired,
			"released", result.Released,
			"deleted", result.Deleted,
		)
	}
	return result, nil
}

// checkin записывает свой check-in и снимает чужой маркер восстановления.
func (c *Coordinator) checkin(ctx context.Context, db repo.DBTX, now time.Time) error {
	states := c.stores.SchedulerStates

	prev, err := states.FindByKey(ctx, db, c.instanceID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("find own state: %w", err)
	}

	state := &domain.SchedulerState{
		InstanceID:      c.instanceID,
		LastCheckinTime: now,
		CheckinInterval: c.checkinInterval,
	}

	if prev == nil {
		if c.registered {
			// Запись удалил другой инстанс: нас сочли упавшими
			c.logger.Warn("scheduler state was removed by another instance, re-registering")
		}
		if err := states.Insert(ctx, db, state); err != nil {
			return fmt.Errorf("insert own state: %w", err)
		}
		return nil
	}

	if prev.RecovererID != "" && prev.RecovererID != c.instanceID {
		c.logger.Warn("instance was being recovered by another instance while alive",
			"recoverer_id", prev.RecovererID,
			"last_checkin_time", prev.LastCheckinTime,
		)
	}

	if err := states.Update(ctx, db, state); err != nil {
		return fmt.Errorf("update own state: %w", err)
	}
	return nil
}

// findFailed возвращает упавшие инстансы, свои fired_triggers прошлого
// запуска и инстансы без строки живости, у которых остались fired_triggers.
func (c *Coordinator) findFailed(ctx context.Context, db repo.DBTX, now time.Time) ([]failedInstance, map[string]domain.SchedulerState, error) {
	states, err := c.stores.SchedulerStates.FindAll(ctx, db)
	if err != nil {
		return nil, nil, fmt.Errorf("find scheduler states: %w", err)
	}

	byID := make(map[string]domain.SchedulerState, len(states))
	var failed []failedInstance

	for _, s := range states {
		byID[s.InstanceID] = s
		if s.InstanceID == c.instanceID {
			continue
		}
		if s.IsFailed(now, c.threshold) {
			failed = append(failed, failedInstance{state: s})
		}
	}

	fired, err := c.stores.FiredTriggers.FindAll(ctx, db)
	if err != nil {
		return nil, nil, fmt.Errorf("find fired triggers: %w", err)
	}

	seen := make(map[string]bool)
	for _, ft := range fired {
		id := ft.SchedulerInstanceID
		if seen[id] {
			continue
		}

		switch _, alive := byID[id]; {
		case id == c.instanceID:
			if !c.selfRecovered && ft.FireTimestamp.Before(c.startedAt) {
				seen[id] = true
				failed = append(failed, failedInstance{state: domain.SchedulerState{InstanceID: id}, self: true})
			}
		case !alive:
			seen[id] = true
			failed = append(failed, failedInstance{state: domain.SchedulerState{InstanceID: id}, orphan: true})
		}
	}

	return failed, byID, nil
}

// claim выставляет себя recoverer упавшего инстанса.
// false — инстанс ожил или его уже восстанавливает кто-то другой.
func (c *Coordinator) claim(ctx context.Context, f *failedInstance, states map[string]domain.SchedulerState, now time.Time) (bool, error) {
	if f.orphan || f.self {
		return true, nil
	}

	// Маркер считается брошенным через один интервал check-in его владельца
	staleAfter := c.checkinInterval
	if owner, ok := states[f.state.RecovererID]; ok && owner.CheckinInterval > 0 {
		staleAfter = owner.CheckinInterval
	}

	if f.state.RecovererID != c.instanceID && f.state.RecoveryInProgress(now, staleAfter) {
		c.logger.Info("instance is being recovered by another instance, skipping",
			"failed_instance_id", f.state.InstanceID,
			"recoverer_id", f.state.RecovererID,
		)
		return false, nil
	}

	var claimed bool
	err := c.stores.DB.InTx(ctx, func(db repo.DBTX) error {
		var err error
		claimed, err = c.stores.SchedulerStates.ClaimRecovery(ctx, db,
			f.state.InstanceID, c.instanceID, f.state.LastCheckinTime, now, now.Add(-staleAfter))
		return err
	})
	if err != nil {
		return false, err
	}
	if !claimed {
		c.logger.Info("lost recovery claim, skipping", "failed_instance_id", f.state.InstanceID)
	}
	return claimed, nil
}

// recoverInstance разбирает fired_triggers упавшего инстанса.
func (c *Coordinator) recoverInstance(ctx context.Context, db repo.DBTX, f *failedInstance, now time.Time) (instanceRecovery, error) {
	var rec instanceRecovery
	failedID := f.state.InstanceID

	fired, err := c.stores.FiredTriggers.FindBySchedulerInstanceID(ctx, db, failedID)
	if err != nil {
		return rec, fmt.Errorf("find fired triggers: %w", err)
	}
	if f.self {
		fired = olderThan(fired, c.startedAt)
	}

	c.logger.Info("recovering failed instance",
		"failed_instance_id", failedID,
		"last_checkin_time", f.state.LastCheckinTime,
		"fired_triggers", len(fired),
		"orphan", f.orphan,
	)

	firedIDs := make(map[string]bool, len(fired))
	for _, ft := range fired {
		firedIDs[ft.FireInstanceID] = true
	}

	var triggerKeys []domain.TriggerKey
	for i := range fired {
		ft := &fired[i]
		logger := telemetry.WithFireInstanceID(c.logger, ft.FireInstanceID)

		// Сначала закрываем эпизод: строка EXECUTING не должна пережить новый fire
		if err := c.stores.FiredTriggers.Delete(ctx, db, ft.FireInstanceID); err != nil && !errors.Is(err, repo.ErrNotFound) {
			return rec, fmt.Errorf("delete fired trigger %s: %w", ft.FireInstanceID, err)
		}

		event := mq.TriggerRecoveredPayload{
			FailedInstanceID: failedID,
			FireInstanceID:   ft.FireInstanceID,
			TriggerName:      ft.TriggerKey.Name,
			TriggerGroup:     ft.TriggerKey.Group,
			JobName:          ft.JobKey.Name,
			JobGroup:         ft.JobKey.Group,
		}

		// Другие выполняющиеся эпизоды того же stateful job
		blocked := false
		if ft.JobIsStateful {
			blocked, err = c.executingElsewhere(ctx, db, ft.JobKey, firedIDs)
			if err != nil {
				return rec, err
			}
		}

		switch {
		case ft.State == domain.FireStateAcquired:
			if _, err := c.stores.Triggers.UpdateStateFrom(ctx, db, ft.TriggerKey,
				domain.TriggerStateWaiting, domain.TriggerStateAcquired); err != nil {
				return rec, fmt.Errorf("release trigger %s: %w", ft.TriggerKey, err)
			}
			event.Action = telemetry.ActionReleased
			rec.released++

		case ft.NeedsRecovery():
			key, ok, err := c.insertRecoveryTrigger(ctx, db, failedID, ft, blocked, now)
			if err != nil {
				return rec, err
			}
			if !ok {
				logger.Warn("job of orphaned fired trigger no longer exists, dropping",
					"job_key", ft.JobKey.String())
				event.Action = telemetry.ActionDeleted
				rec.deleted++
				break
			}
			event.Action = telemetry.ActionRefired
			event.RecoveryTrigger = key.String()
			rec.refired++

		default:
			// Не перезапускается: trigger просто возвращается в пул
			if _, err := c.stores.Triggers.UpdateStateFrom(ctx, db, ft.TriggerKey,
				domain.TriggerStateWaiting, domain.TriggerStateAcquired, domain.TriggerStateExecuting); err != nil {
				return rec, fmt.Errorf("release trigger %s: %w", ft.TriggerKey, err)
			}
			event.Action = telemetry.ActionReleased
			rec.released++
		}

		if ft.JobIsStateful && !blocked {
			if err := c.unblockJob(ctx, db, ft.JobKey); err != nil {
				return rec, err
			}
		}

		logger.Debug("fired trigger recovered", "action", event.Action, "trigger_key", ft.TriggerKey.String())
		c.metrics.FiredRecovered.WithLabelValues(event.Action).Inc()

		rec.events = append(rec.events, event)
		triggerKeys = append(triggerKeys, ft.TriggerKey)
	}
	rec.fired = len(fired)

	if err := c.removeCompleteTriggers(ctx, db, triggerKeys); err != nil {
		return rec, err
	}

	if !f.self {
		err := c.stores.SchedulerStates.Delete(ctx, db, failedID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return rec, fmt.Errorf("delete scheduler state: %w", err)
		}
	}

	return rec, nil
}

// RecoveryTriggerKey — ключ recovery trigger для эпизода упавшего инстанса.
func RecoveryTriggerKey(failedInstanceID, fireInstanceID string) domain.TriggerKey {
	return domain.NewTriggerKey(fmt.Sprintf("recover_%s_%s", failedInstanceID, fireInstanceID), domain.RecoveringJobsGroup)
}

// insertRecoveryTrigger создаёт trigger немедленного перезапуска job.
// false — job уже удалён.
func (c *Coordinator) insertRecoveryTrigger(ctx context.Context, db repo.DBTX, failedID string, ft *domain.FiredTrigger, blocked bool, now time.Time) (domain.TriggerKey, bool, error) {
	key := RecoveryTriggerKey(failedID, ft.FireInstanceID)

	job, err := c.stores.Jobs.FindByKey(ctx, db, ft.JobKey)
	if errors.Is(err, repo.ErrNotFound) {
		return key, false, nil
	}
	if err != nil {
		return key, false, fmt.Errorf("find job %s: %w", ft.JobKey, err)
	}

	scheduled := ft.FireTimestamp
	if ft.ScheduledTime != nil {
		scheduled = *ft.ScheduledTime
	}

	jobData := make(map[string]any, len(job.JobData)+3)
	maps.Copy(jobData, job.JobData)
	jobData[domain.RecoveryTriggerNameKey] = ft.TriggerKey.Name
	jobData[domain.RecoveryTriggerGroupKey] = ft.TriggerKey.Group
	jobData[domain.RecoveryTriggerFireTimeKey] = scheduled.UTC().Format(time.RFC3339Nano)

	state := domain.TriggerStateWaiting
	if blocked {
		state = domain.TriggerStateBlocked
	}

	fireAt := now
	trigger := &domain.Trigger{
		Key:          key,
		JobKey:       ft.JobKey,
		State:        state,
		NextFireTime: &fireAt,
		Priority:     ft.Priority,
		JobData:      jobData,
	}

	err = c.stores.Triggers.Insert(ctx, db, trigger)
	if err != nil && !errors.Is(err, repo.ErrAlreadyExists) {
		return key, false, fmt.Errorf("insert recovery trigger %s: %w", key, err)
	}
	return key, true, nil
}

// executingElsewhere проверяет, выполняется ли job в эпизоде,
// не принадлежащем разбираемому инстансу.
func (c *Coordinator) executingElsewhere(ctx context.Context, db repo.DBTX, jobKey domain.JobKey, recovering map[string]bool) (bool, error) {
	rows, err := c.stores.FiredTriggers.FindByJobKey(ctx, db, jobKey)
	if err != nil {
		return false, fmt.Errorf("find fired triggers for job %s: %w", jobKey, err)
	}
	for _, row := range rows {
		if !recovering[row.FireInstanceID] && row.State == domain.FireStateExecuting {
			return true, nil
		}
	}
	return false, nil
}

// unblockJob возвращает заблокированные triggers stateful job в работу.
func (c *Coordinator) unblockJob(ctx context.Context, db repo.DBTX, jobKey domain.JobKey) error {
	triggers := c.stores.Triggers
	if _, err := triggers.UpdateStatesForJob(ctx, db, jobKey, domain.TriggerStateWaiting, domain.TriggerStateBlocked); err != nil {
		return fmt.Errorf("unblock triggers of %s: %w", jobKey, err)
	}
	if _, err := triggers.UpdateStatesForJob(ctx, db, jobKey, domain.TriggerStatePaused, domain.TriggerStatePausedBlocked); err != nil {
		return fmt.Errorf("unblock paused triggers of %s: %w", jobKey, err)
	}
	return nil
}

// removeCompleteTriggers удаляет triggers, которые завершились, пока
// их эпизод был в полёте.
func (c *Coordinator) removeCompleteTriggers(ctx context.Context, db repo.DBTX, keys []domain.TriggerKey) error {
	done := make(map[domain.TriggerKey]bool, len(keys))
	for _, key := range keys {
		if done[key] {
			continue
		}
		done[key] = true

		t, err := c.stores.Triggers.FindByKey(ctx, db, key)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("find trigger %s: %w", key, err)
		}
		if t.State != domain.TriggerStateComplete {
			continue
		}

		if err := c.stores.RemoveTrigger(ctx, db, key); err != nil {
			return err
		}
	}
	return nil
}

// olderThan оставляет эпизоды, начатые до t.
func olderThan(fired []domain.FiredTrigger, t time.Time) []domain.FiredTrigger {
	var result []domain.FiredTrigger
	for _, ft := range fired {
		if ft.FireTimestamp.Before(t) {
			result = append(result, ft)
		}
	}
	return result
}

// publishRecovery публикует события после фиксации разбора.
// Ошибки публикации не фатальны: состояние уже в БД.
func (c *Coordinator) publishRecovery(ctx context.Context, f *failedInstance, rec instanceRecovery) {
	if c.publisher == nil {
		return
	}

	for _, event := range rec.events {
		if err := c.publisher.PublishTriggerRecovered(ctx, event); err != nil {
			c.logger.Warn("failed to publish trigger.recovered",
				"fire_instance_id", event.FireInstanceID,
				"error", err,
			)
		}
	}

	if f.self {
		return
	}

	payload := mq.InstanceFailedPayload{
		InstanceID:      f.state.InstanceID,
		RecovererID:     c.instanceID,
		LastCheckinTime: f.state.LastCheckinTime,
		FiredTriggers:   rec.fired,
		Refired:         rec.refired,
	}
	if err := c.publisher.PublishInstanceFailed(ctx, payload); err != nil {
		c.logger.Warn("failed to publish instance.failed",
			"failed_instance_id", f.state.InstanceID,
			"error", err,
		)
	}
}
