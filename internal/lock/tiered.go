package lock

import (
	"context"
	"time"

	"github.com/shaiso/jobstore/internal/repo"
)

// TieredSemaphore — локальная блокировка поверх межпроцессной.
//
// Локальный уровень берётся первым, чтобы в хранилище шла не более
// чем одна горутина процесса. Release идёт в обратном порядке.
type TieredSemaphore struct {
	local  Semaphore
	remote Semaphore
}

// Tiered собирает TieredSemaphore.
func Tiered(local, remote Semaphore) *TieredSemaphore {
	return &TieredSemaphore{local: local, remote: remote}
}

func (s *TieredSemaphore) Acquire(ctx context.Context, conn repo.DBTX, name string) error {
	if err := s.local.Acquire(ctx, conn, name); err != nil {
		return err
	}
	if err := s.remote.Acquire(ctx, conn, name); err != nil {
		s.local.Release(ctx, name)
		return err
	}
	return nil
}

func (s *TieredSemaphore) Release(ctx context.Context, name string) {
	s.remote.Release(ctx, name)
	s.local.Release(ctx, name)
}

func (s *TieredSemaphore) IsOwner(ctx context.Context, name string) bool {
	return s.local.IsOwner(ctx, name) && s.remote.IsOwner(ctx, name)
}

func (s *TieredSemaphore) RequiresConnection() bool {
	return s.local.RequiresConnection() || s.remote.RequiresConnection()
}

// ObservedSemaphore замеряет время ожидания Acquire.
type ObservedSemaphore struct {
	Semaphore
	observe func(name string, wait time.Duration)
}

// Observed оборачивает sem; observe вызывается после каждого успешного Acquire.
func Observed(sem Semaphore, observe func(name string, wait time.Duration)) *ObservedSemaphore {
	return &ObservedSemaphore{Semaphore: sem, observe: observe}
}

func (s *ObservedSemaphore) Acquire(ctx context.Context, conn repo.DBTX, name string) error {
	start := time.Now()
	if err := s.Semaphore.Acquire(ctx, conn, name); err != nil {
		return err
	}
	if s.observe != nil {
		s.observe(name, time.Since(start))
	}
	return nil
}
