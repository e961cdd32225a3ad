package lock

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"unique"

	"github.com/shaiso/jobstore/internal/repo"
)

// LocalSemaphore — блокировки внутри одного процесса.
//
// Ожидающие подписываются на канал текущего держателя; Release закрывает
// его и будит всех сразу. Каждый проснувшийся заново проверяет имя, так
// что порядок выдачи не гарантирован.
type LocalSemaphore struct {
	mu     sync.Mutex
	held   map[unique.Handle[string]]*holder
	logger *slog.Logger
}

type holder struct {
	owner    string
	released chan struct{}
}

// NewLocalSemaphore создаёт LocalSemaphore.
func NewLocalSemaphore(logger *slog.Logger) *LocalSemaphore {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalSemaphore{
		held:   make(map[unique.Handle[string]]*holder),
		logger: logger,
	}
}

func (s *LocalSemaphore) Acquire(ctx context.Context, _ repo.DBTX, name string) error {
	owner, ok := OwnerFrom(ctx)
	if !ok {
		return ErrNoOwner
	}
	key := unique.Make(name)

	for {
		s.mu.Lock()
		h, busy := s.held[key]
		if !busy {
			s.held[key] = &holder{owner: owner, released: make(chan struct{})}
			s.mu.Unlock()
			s.logger.Debug("lock acquired", "lock", name, "owner", owner)
			return nil
		}
		if h.owner == owner {
			s.mu.Unlock()
			s.logger.Debug("lock already owned", "lock", name, "owner", owner)
			return nil
		}
		wait := h.released
		s.mu.Unlock()

		s.logger.Debug("lock busy, waiting", "lock", name, "owner", owner)
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *LocalSemaphore) Release(ctx context.Context, name string) {
	owner, _ := OwnerFrom(ctx)
	key := unique.Make(name)

	s.mu.Lock()
	h, ok := s.held[key]
	if !ok || h.owner != owner {
		s.mu.Unlock()
		s.logger.Debug("lock not owned, release ignored", "lock", name, "owner", owner)
		return
	}
	delete(s.held, key)
	close(h.released)
	s.mu.Unlock()

	s.logger.Debug("lock released", "lock", name, "owner", owner)
}

func (s *LocalSemaphore) IsOwner(ctx context.Context, name string) bool {
	owner, ok := OwnerFrom(ctx)
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h, held := s.held[unique.Make(name)]
	return held && h.owner == owner
}

func (s *LocalSemaphore) RequiresConnection() bool {
	return false
}

// Owned возвращает имена блокировок, которые держит владелец из ctx.
func (s *LocalSemaphore) Owned(ctx context.Context) []string {
	owner, ok := OwnerFrom(ctx)
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var names []string
	for key, h := range s.held {
		if h.owner == owner {
			names = append(names, key.Value())
		}
	}
	sort.Strings(names)
	return names
}

// Held возвращает все занятые в процессе имена.
func (s *LocalSemaphore) Held() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.held))
	for key := range s.held {
		names = append(names, key.Value())
	}
	sort.Strings(names)
	return names
}
