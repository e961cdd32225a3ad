package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unique"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/shaiso/jobstore/internal/repo"
	"github.com/shaiso/jobstore/internal/telemetry"
)

// Скрипты проверяют токен, чтобы не трогать чужую аренду.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisConfig — настройки RedisSemaphore.
type RedisConfig struct {
	// SchedName — имя кластера, входит в ключ.
	SchedName string

	// TTL — срок аренды. Пока блокировка держится, аренда продлевается
	// каждые TTL/3. По умолчанию: 30s
	TTL time.Duration

	// RetryInterval — пауза между попытками взять занятый ключ.
	// По умолчанию: 100ms
	RetryInterval time.Duration

	Logger *slog.Logger
}

// RedisSemaphore — блокировка через аренду ключа в Redis (SET NX PX).
//
// Не привязана к транзакции: если процесс умер, аренда истекает сама.
type RedisSemaphore struct {
	client redis.UniversalClient
	cfg    RedisConfig

	mu     sync.Mutex
	leases map[unique.Handle[string]]*lease
}

type lease struct {
	owner string
	token string
	stop  chan struct{}
	done  chan struct{}
}

// NewRedisSemaphore создаёт RedisSemaphore.
func NewRedisSemaphore(client redis.UniversalClient, cfg RedisConfig) *RedisSemaphore {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 100 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RedisSemaphore{
		client: client,
		cfg:    cfg,
		leases: make(map[unique.Handle[string]]*lease),
	}
}

// Key возвращает ключ Redis для блокировки name.
func (s *RedisSemaphore) Key(name string) string {
	return fmt.Sprintf("jobstore:%s:lock:%s", s.cfg.SchedName, name)
}

func (s *RedisSemaphore) Acquire(ctx context.Context, _ repo.DBTX, name string) error {
	owner, ok := OwnerFrom(ctx)
	if !ok {
		return ErrNoOwner
	}
	key := unique.Make(name)

	s.mu.Lock()
	if l, held := s.leases[key]; held && l.owner == owner {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	token := uuid.NewString()
	ticker := time.NewTicker(s.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := s.client.SetNX(ctx, s.Key(name), token, s.cfg.TTL).Result()
		if err != nil {
			return fmt.Errorf("redis lock %s: %w", name, err)
		}
		if ok {
			break
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	l := &lease{owner: owner, token: token, stop: make(chan struct{}), done: make(chan struct{})}
	s.mu.Lock()
	s.leases[key] = l
	s.mu.Unlock()

	go s.refresh(name, l)

	s.cfg.Logger.Debug("lock acquired", "lock", name, "owner", owner, "kind", "redis")
	return nil
}

func (s *RedisSemaphore) Release(ctx context.Context, name string) {
	owner, _ := OwnerFrom(ctx)
	key := unique.Make(name)

	s.mu.Lock()
	l, ok := s.leases[key]
	if !ok || l.owner != owner {
		s.mu.Unlock()
		s.cfg.Logger.Debug("lock not owned, release ignored", "lock", name, "owner", owner, "kind", "redis")
		return
	}
	delete(s.leases, key)
	s.mu.Unlock()

	close(l.stop)
	<-l.done

	// Отпускаем даже при отменённом ctx вызывающего.
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := releaseScript.Run(releaseCtx, s.client, []string{s.Key(name)}, l.token).Err(); err != nil {
		s.cfg.Logger.Warn("failed to release redis lock", "lock", name, "error", err)
		return
	}
	s.cfg.Logger.Debug("lock released", "lock", name, "owner", owner, "kind", "redis")
}

func (s *RedisSemaphore) IsOwner(ctx context.Context, name string) bool {
	owner, ok := OwnerFrom(ctx)
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, held := s.leases[unique.Make(name)]
	return held && l.owner == owner
}

func (s *RedisSemaphore) RequiresConnection() bool {
	return false
}

// refresh продлевает аренду, пока блокировка не отпущена.
func (s *RedisSemaphore) refresh(name string, l *lease) {
	defer close(l.done)

	logger := telemetry.WithLockName(s.cfg.Logger, name)
	ticker := time.NewTicker(s.cfg.TTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TTL/3)
			n, err := refreshScript.Run(ctx, s.client, []string{s.Key(name)}, l.token, s.cfg.TTL.Milliseconds()).Int()
			cancel()

			if err != nil {
				logger.Warn("failed to refresh redis lock", "error", err)
				continue
			}
			if n == 0 {
				// Ключ истёк или перехвачен: владельца больше нет
				s.mu.Lock()
				if key := unique.Make(name); s.leases[key] == l {
					delete(s.leases, key)
				}
				s.mu.Unlock()
				logger.Error("redis lock lease lost", "owner", l.owner)
				return
			}
		}
	}
}
