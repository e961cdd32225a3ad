package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/jobstore/internal/repo"
)

// ErrLockTimeout — блокировка не получена за отведённое время.
var ErrLockTimeout = errors.New("lock acquire timeout")

// TimeoutError описывает истёкшее ожидание блокировки.
type TimeoutError struct {
	Name    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("lock %s not acquired within %s", e.Name, e.Timeout)
}

// Is позволяет сравнивать через errors.Is(err, ErrLockTimeout).
func (e *TimeoutError) Is(target error) bool {
	return target == ErrLockTimeout
}

// AcquireWithin ограничивает ожидание Acquire временем timeout.
// timeout <= 0 — ожидание без ограничения.
//
// Выданная блокировка остаётся у владельца, даже если срок истёк
// одновременно с выдачей.
func AcquireWithin(ctx context.Context, sem Semaphore, conn repo.DBTX, name string, timeout time.Duration) error {
	if timeout <= 0 {
		return sem.Acquire(ctx, conn, name)
	}

	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := sem.Acquire(acquireCtx, conn, name)
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return &TimeoutError{Name: name, Timeout: timeout}
	}
	return err
}
