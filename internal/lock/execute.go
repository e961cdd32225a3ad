package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/jobstore/internal/repo"
)

// Executor выполняет работу в транзакции под именованными блокировками.
type Executor struct {
	DB  repo.TxRunner
	Sem Semaphore

	// AcquireTimeout — предел ожидания каждой блокировки. 0 — без предела.
	AcquireTimeout time.Duration
}

// Run берёт блокировки names по порядку и выполняет fn в транзакции.
// Уровень без соединения (локальный) берётся до открытия транзакции,
// поэтому ожидающая горутина не занимает соединение пула. Уровень,
// которому нужно соединение, берётся уже внутри транзакции.
// Блокировки отпускаются в обратном порядке после commit или rollback.
//
// Если в ctx нет владельца, создаётся новый. Имена, которые владелец
// уже держал до вызова, Run не отпускает.
func (e *Executor) Run(ctx context.Context, names []string, fn func(ctx context.Context, conn repo.DBTX) error) error {
	ctx = ensureOwner(ctx)
	outer, inner := tiers(e.Sem)

	var acquired []held
	defer func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i].sem.Release(ctx, acquired[i].name)
		}
	}()

	acquire := func(sem Semaphore, conn repo.DBTX) error {
		for _, name := range names {
			if sem.IsOwner(ctx, name) {
				continue
			}
			if err := AcquireWithin(ctx, sem, conn, name, e.AcquireTimeout); err != nil {
				return fmt.Errorf("acquire %s: %w", name, err)
			}
			acquired = append(acquired, held{sem: sem, name: name})
		}
		return nil
	}

	if outer != nil {
		if err := acquire(outer, nil); err != nil {
			return err
		}
	}

	return e.DB.InTx(ctx, func(conn repo.DBTX) error {
		if inner != nil {
			if err := acquire(inner, conn); err != nil {
				return err
			}
		}
		return fn(ctx, conn)
	})
}

type held struct {
	sem  Semaphore
	name string
}

// tiers делит семафор на уровень, который берётся без соединения,
// и уровень, которому соединение нужно. Любой из них может быть nil.
func tiers(sem Semaphore) (outer, inner Semaphore) {
	if !sem.RequiresConnection() {
		return sem, nil
	}
	switch s := sem.(type) {
	case *TieredSemaphore:
		if s.local.RequiresConnection() {
			return nil, s
		}
		return s.local, s.remote
	case *ObservedSemaphore:
		outer, inner = tiers(s.Semaphore)
		if outer != nil {
			outer = Observed(outer, s.observe)
		}
		if inner != nil {
			inner = Observed(inner, s.observe)
		}
		return outer, inner
	}
	return nil, sem
}

// Execute — Run без ограничения ожидания.
func Execute(ctx context.Context, db repo.TxRunner, sem Semaphore, names []string, fn func(ctx context.Context, conn repo.DBTX) error) error {
	e := &Executor{DB: db, Sem: sem}
	return e.Run(ctx, names, fn)
}
