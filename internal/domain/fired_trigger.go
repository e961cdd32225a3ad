package domain

import "time"

// FiredTrigger — запись об одном эпизоде срабатывания trigger.
//
// Вставляется, когда trigger передаётся на выполнение, обновляется по мере
// продвижения эпизода и удаляется при нормальном завершении. Если инстанс
// упал, строка остаётся и служит уликой для восстановления.
type FiredTrigger struct {
	// FireInstanceID — уникальный идентификатор эпизода (не trigger).
	FireInstanceID string `json:"fire_instance_id"`

	TriggerKey TriggerKey `json:"trigger_key"`
	JobKey     JobKey     `json:"job_key"`

	// SchedulerInstanceID — инстанс, который выполняет (выполнял) эпизод.
	SchedulerInstanceID string `json:"scheduler_instance_id"`

	// FireTimestamp — момент захвата trigger.
	FireTimestamp time.Time `json:"fire_timestamp"`

	// ScheduledTime — запланированное время срабатывания.
	ScheduledTime *time.Time `json:"scheduled_time,omitempty"`

	Priority int `json:"priority"`

	State FireInstanceState `json:"state"`

	// JobIsStateful — stateful jobs нельзя выполнять параллельно.
	JobIsStateful bool `json:"job_is_stateful"`

	// JobRequestsRecovery — при падении во время выполнения job нужно перезапустить.
	JobRequestsRecovery bool `json:"job_requests_recovery"`

	// TriggerIsVolatile — volatile trigger не участвует в восстановлении.
	TriggerIsVolatile bool `json:"trigger_is_volatile"`
}

// NeedsRecovery возвращает true, если эпизод надо перезапустить после падения инстанса.
func (f *FiredTrigger) NeedsRecovery() bool {
	return f.State == FireStateExecuting && f.JobRequestsRecovery && !f.TriggerIsVolatile
}

// Equal сравнивает записи по FireInstanceID.
func (f *FiredTrigger) Equal(other *FiredTrigger) bool {
	if f == nil || other == nil {
		return f == other
	}
	return f.FireInstanceID == other.FireInstanceID
}
