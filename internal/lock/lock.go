package lock

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/shaiso/jobstore/internal/repo"
)

// Имена блокировок планировщика.
const (
	TriggerAccess = "TRIGGER_ACCESS"
	StateAccess   = "STATE_ACCESS"
)

var (
	// ErrNoOwner — в контексте нет идентификатора владельца.
	ErrNoOwner = errors.New("lock owner not set in context")

	// ErrConnectionRequired — межпроцессной блокировке нужно соединение с БД.
	ErrConnectionRequired = errors.New("lock requires a database connection")
)

// Semaphore — именованная блокировка.
type Semaphore interface {
	// Acquire блокирует до получения name владельцем из ctx.
	// Возвращает ошибку только при отмене ctx, отсутствии владельца
	// или сбое хранилища.
	Acquire(ctx context.Context, conn repo.DBTX, name string) error

	// Release отпускает name, если владелец из ctx её держит.
	Release(ctx context.Context, name string)

	// IsOwner возвращает true, если владелец из ctx держит name.
	IsOwner(ctx context.Context, name string) bool

	// RequiresConnection — Acquire работает только внутри транзакции.
	RequiresConnection() bool
}

type ownerKey struct{}

// WithOwner привязывает к контексту идентификатор владельца блокировок.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// WithNewOwner привязывает к контексту нового уникального владельца.
func WithNewOwner(ctx context.Context) context.Context {
	return WithOwner(ctx, uuid.NewString())
}

// OwnerFrom извлекает идентификатор владельца из контекста.
func OwnerFrom(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerKey{}).(string)
	return owner, ok && owner != ""
}

// ensureOwner возвращает ctx с владельцем, создавая его при необходимости.
func ensureOwner(ctx context.Context) context.Context {
	if _, ok := OwnerFrom(ctx); ok {
		return ctx
	}
	return WithNewOwner(ctx)
}
