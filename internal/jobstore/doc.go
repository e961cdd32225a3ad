// Package jobstore реализует захват triggers и жизненный цикл эпизодов
// срабатывания поверх общего хранилища.
//
// Все изменяющие операции выполняются под блокировкой TRIGGER_ACCESS:
//
//	AcquireNextTriggers   WAITING → ACQUIRED, вставка fired_triggers (ACQUIRED)
//	TriggerFired          fired_triggers → EXECUTING, trigger → следующее срабатывание
//	TriggeredJobComplete  строка fired_triggers удаляется (COMPLETE)
//	ReleaseAcquiredTrigger ACQUIRED → WAITING, строка удаляется
//
// Stateful job не выполняется параллельно: пока идёт его эпизод,
// остальные triggers job находятся в BLOCKED (или PAUSED_BLOCKED).
package jobstore
