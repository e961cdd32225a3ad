package domain

import "time"

// Ключи job data, которые получает recovery trigger.
const (
	RecoveryTriggerNameKey     = "recovery.trigger.name"
	RecoveryTriggerGroupKey    = "recovery.trigger.group"
	RecoveryTriggerFireTimeKey = "recovery.trigger.fire_time"
)

// Trigger — запись trigger в хранилище.
//
// Вычисление времени срабатываний сюда не входит: NextFireTime
// выставляет вызывающий код.
type Trigger struct {
	Key    TriggerKey   `json:"key"`
	JobKey JobKey       `json:"job_key"`
	State  TriggerState `json:"state"`

	// NextFireTime — следующее срабатывание. Nil — срабатываний больше нет.
	NextFireTime *time.Time `json:"next_fire_time,omitempty"`
	PrevFireTime *time.Time `json:"prev_fire_time,omitempty"`

	// Priority — при равном NextFireTime первым захватывается trigger с большим приоритетом.
	Priority int `json:"priority"`

	Volatile bool `json:"volatile,omitempty"`

	JobData map[string]any `json:"job_data,omitempty"`
}

// IsRecovery возвращает true для trigger, созданного восстановлением.
func (t *Trigger) IsRecovery() bool {
	return t.Key.Group == RecoveringJobsGroup
}
