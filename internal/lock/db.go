package lock

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/shaiso/jobstore/internal/repo"
)

// Блокировка строки scheduler_locks. Строка создаётся при первом обращении.
const (
	selectLockRowSQL = `SELECT lock_name FROM scheduler_locks WHERE sched_name = $1 AND lock_name = $2 FOR UPDATE`
	insertLockRowSQL = `INSERT INTO scheduler_locks (sched_name, lock_name) VALUES ($1, $2) ON CONFLICT DO NOTHING`
)

// Advisory-блокировка уровня транзакции.
const advisoryLockSQL = `SELECT pg_advisory_xact_lock($1)`

// dbSemaphore — общая часть блокировок, живущих в транзакции PostgreSQL.
// Блокировка в БД снимается commit или rollback транзакции;
// Release только забывает владельца.
type dbSemaphore struct {
	kind   string
	owners *owners
	lock   func(ctx context.Context, conn repo.DBTX, name string) error
	logger *slog.Logger
}

func (s *dbSemaphore) Acquire(ctx context.Context, conn repo.DBTX, name string) error {
	owner, ok := OwnerFrom(ctx)
	if !ok {
		return ErrNoOwner
	}
	if conn == nil {
		return ErrConnectionRequired
	}
	if s.owners.isOwner(owner, name) {
		s.logger.Debug("lock already owned", "lock", name, "owner", owner, "kind", s.kind)
		return nil
	}

	if err := s.lock(ctx, conn, name); err != nil {
		return fmt.Errorf("%s lock %s: %w", s.kind, name, err)
	}

	s.owners.add(owner, name)
	s.logger.Debug("lock acquired", "lock", name, "owner", owner, "kind", s.kind)
	return nil
}

func (s *dbSemaphore) Release(ctx context.Context, name string) {
	owner, _ := OwnerFrom(ctx)
	if !s.owners.remove(owner, name) {
		s.logger.Debug("lock not owned, release ignored", "lock", name, "owner", owner, "kind", s.kind)
		return
	}
	s.logger.Debug("lock released", "lock", name, "owner", owner, "kind", s.kind)
}

func (s *dbSemaphore) IsOwner(ctx context.Context, name string) bool {
	owner, ok := OwnerFrom(ctx)
	return ok && s.owners.isOwner(owner, name)
}

func (s *dbSemaphore) RequiresConnection() bool {
	return true
}

// RowSemaphore — блокировка строки scheduler_locks через SELECT ... FOR UPDATE.
type RowSemaphore struct {
	dbSemaphore
	schedName string
}

// NewRowSemaphore создаёт RowSemaphore для кластера schedName.
func NewRowSemaphore(schedName string, logger *slog.Logger) *RowSemaphore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &RowSemaphore{schedName: schedName}
	s.dbSemaphore = dbSemaphore{
		kind:   "row",
		owners: newOwners(),
		lock:   s.lockRow,
		logger: logger,
	}
	return s
}

func (s *RowSemaphore) lockRow(ctx context.Context, conn repo.DBTX, name string) error {
	var locked string
	err := conn.QueryRow(ctx, selectLockRowSQL, s.schedName, name).Scan(&locked)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	// Строки ещё нет: создаём и блокируем повторно.
	if _, err := conn.Exec(ctx, insertLockRowSQL, s.schedName, name); err != nil {
		return fmt.Errorf("insert lock row: %w", err)
	}
	return conn.QueryRow(ctx, selectLockRowSQL, s.schedName, name).Scan(&locked)
}

// AdvisorySemaphore — pg_advisory_xact_lock по хешу имени кластера и блокировки.
type AdvisorySemaphore struct {
	dbSemaphore
	schedName string
}

// NewAdvisorySemaphore создаёт AdvisorySemaphore для кластера schedName.
func NewAdvisorySemaphore(schedName string, logger *slog.Logger) *AdvisorySemaphore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &AdvisorySemaphore{schedName: schedName}
	s.dbSemaphore = dbSemaphore{
		kind:   "advisory",
		owners: newOwners(),
		lock:   s.lockAdvisory,
		logger: logger,
	}
	return s
}

func (s *AdvisorySemaphore) lockAdvisory(ctx context.Context, conn repo.DBTX, name string) error {
	_, err := conn.Exec(ctx, advisoryLockSQL, AdvisoryKey(s.schedName, name))
	return err
}

// AdvisoryKey — ключ advisory-блокировки: FNV-1a от "schedName/name".
func AdvisoryKey(schedName, name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(schedName + "/" + name))
	return int64(h.Sum64())
}
