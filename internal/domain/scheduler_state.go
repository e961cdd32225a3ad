package domain

import "time"

// SchedulerState — запись о живости инстанса планировщика (heartbeat).
//
// Строка создаётся при старте инстанса, обновляется на каждом check-in,
// читается любым инстансом при сканировании кластера и удаляется при
// штатной остановке или тем, кто восстановил упавший инстанс.
type SchedulerState struct {
	// InstanceID — уникальный идентификатор инстанса.
	InstanceID string `json:"instance_id"`

	// LastCheckinTime — время последнего check-in.
	LastCheckinTime time.Time `json:"last_checkin_time"`

	// CheckinInterval — заявленный инстансом период check-in.
	CheckinInterval time.Duration `json:"checkin_interval"`

	// RecovererID — инстанс, который сейчас восстанавливает этот.
	// Пустая строка — восстановление не идёт.
	RecovererID string `json:"recoverer_id,omitempty"`

	// RecoveryStartedAt — когда RecovererID был выставлен.
	RecoveryStartedAt *time.Time `json:"recovery_started_at,omitempty"`
}

// IsFailed проверяет, пропустил ли инстанс слишком много check-in.
// Граница строгая: now - LastCheckinTime == CheckinInterval*threshold ещё не отказ.
func (s *SchedulerState) IsFailed(now time.Time, threshold float64) bool {
	allowed := time.Duration(float64(s.CheckinInterval) * threshold)
	return now.Sub(s.LastCheckinTime) > allowed
}

// RecoveryInProgress возвращает true, если другой инстанс выставил маркер
// восстановления не раньше чем staleAfter назад.
func (s *SchedulerState) RecoveryInProgress(now time.Time, staleAfter time.Duration) bool {
	if s.RecovererID == "" || s.RecoveryStartedAt == nil {
		return false
	}
	return now.Sub(*s.RecoveryStartedAt) <= staleAfter
}

// Equal сравнивает записи по InstanceID.
func (s *SchedulerState) Equal(other *SchedulerState) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.InstanceID == other.InstanceID
}
