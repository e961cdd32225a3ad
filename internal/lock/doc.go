// Package lock реализует именованные блокировки планировщика.
//
// Блокировка сериализует доступ к общему изменяемому состоянию кластера:
// TRIGGER_ACCESS защищает захват triggers и строки fired_triggers,
// STATE_ACCESS — записи живости инстансов.
//
// Владелец блокировки — не горутина, а явный идентификатор в контексте
// (WithOwner / WithNewOwner). Повторный Acquire тем же владельцем ничего
// не делает и не требует второго Release. Release чужой или свободной
// блокировки игнорируется с записью в лог.
//
// Реализации Semaphore:
//   - LocalSemaphore — внутри процесса
//   - RowSemaphore — SELECT ... FOR UPDATE по строке scheduler_locks
//   - AdvisorySemaphore — pg_advisory_xact_lock
//   - RedisSemaphore — аренда ключа в Redis
//
// В кластере Tiered(local, remote) сначала берёт локальную блокировку,
// затем межпроцессную, а отпускает в обратном порядке.
//
// Если оба имени нужны одновременно, TRIGGER_ACCESS берётся раньше
// STATE_ACCESS.
package lock
