package domain

// FireInstanceState — состояние одного эпизода срабатывания trigger.
//
// Жизненный цикл:
//
//	ACQUIRED → EXECUTING → COMPLETE (строка удаляется)
//	           ↘ (инстанс упал) → подобран recovery
//
// COMPLETE никогда не сохраняется в БД: завершение эпизода — это удаление строки.
type FireInstanceState string

const (
	// FireStateAcquired — trigger захвачен инстансом, но job ещё не запущен.
	FireStateAcquired FireInstanceState = "ACQUIRED"

	// FireStateExecuting — job выполняется.
	FireStateExecuting FireInstanceState = "EXECUTING"

	// FireStateComplete — эпизод завершён.
	FireStateComplete FireInstanceState = "COMPLETE"
)

// IsPersistable возвращает true, если состояние может храниться в строке fired_triggers.
func (s FireInstanceState) IsPersistable() bool {
	return s == FireStateAcquired || s == FireStateExecuting
}

// TriggerState — состояние trigger в хранилище.
//
// Жизненный цикл:
//
//	WAITING → ACQUIRED → WAITING (следующее срабатывание) или COMPLETE
//	        ↘ BLOCKED (stateful job уже выполняется) → WAITING
//	PAUSED ↔ PAUSED_BLOCKED
type TriggerState string

const (
	TriggerStateWaiting       TriggerState = "WAITING"
	TriggerStateAcquired      TriggerState = "ACQUIRED"
	TriggerStateExecuting     TriggerState = "EXECUTING"
	TriggerStateComplete      TriggerState = "COMPLETE"
	TriggerStateBlocked       TriggerState = "BLOCKED"
	TriggerStatePaused        TriggerState = "PAUSED"
	TriggerStatePausedBlocked TriggerState = "PAUSED_BLOCKED"
	TriggerStateError         TriggerState = "ERROR"
)

// String возвращает строковое представление TriggerState.
func (s TriggerState) String() string {
	return string(s)
}
