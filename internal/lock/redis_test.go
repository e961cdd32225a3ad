package lock

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// --- RedisSemaphore Tests ---

func TestRedisSemaphore_Key(t *testing.T) {
	sem := NewRedisSemaphore(nil, RedisConfig{SchedName: "prod"})

	if got := sem.Key(StateAccess); got != "jobstore:prod:lock:STATE_ACCESS" {
		t.Errorf("unexpected key %s", got)
	}
	if sem.RequiresConnection() {
		t.Error("redis lock does not need a database connection")
	}
}

func TestRedisSemaphore_Defaults(t *testing.T) {
	sem := NewRedisSemaphore(nil, RedisConfig{})

	if sem.cfg.TTL != 30*time.Second {
		t.Errorf("expected default TTL 30s, got %v", sem.cfg.TTL)
	}
	if sem.cfg.RetryInterval != 100*time.Millisecond {
		t.Errorf("expected default retry 100ms, got %v", sem.cfg.RetryInterval)
	}
}

// redisClient подключается к JOBSTORE_TEST_REDIS_URL или пропускает тест.
func redisClient(t *testing.T) *redis.Client {
	t.Helper()

	url := os.Getenv("JOBSTORE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("JOBSTORE_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisSemaphore_MutualExclusion(t *testing.T) {
	client := redisClient(t)
	sched := "test-" + time.Now().Format("150405.000000")

	// Два процесса — два независимых семафора
	a := NewRedisSemaphore(client, RedisConfig{SchedName: sched, TTL: 3 * time.Second, RetryInterval: 10 * time.Millisecond, Logger: quietLogger()})
	b := NewRedisSemaphore(client, RedisConfig{SchedName: sched, TTL: 3 * time.Second, RetryInterval: 10 * time.Millisecond, Logger: quietLogger()})

	ctxA := WithOwner(context.Background(), "a")
	ctxB := WithOwner(context.Background(), "b")

	if err := a.Acquire(ctxA, nil, StateAccess); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := AcquireWithin(ctxB, b, nil, StateAccess, 100*time.Millisecond); err == nil {
		t.Fatal("second process must not acquire a held lease")
	}

	a.Release(ctxA, StateAccess)

	if err := AcquireWithin(ctxB, b, nil, StateAccess, time.Second); err != nil {
		t.Fatalf("expected acquire after release, got %v", err)
	}
	b.Release(ctxB, StateAccess)
}

// leaseRedis — UniversalClient, который отвечает только на SetNX и скрипты.
type leaseRedis struct {
	redis.UniversalClient

	setNX   atomic.Int32
	refresh atomic.Int64
}

func (r *leaseRedis) SetNX(_ context.Context, _ string, _ any, _ time.Duration) *redis.BoolCmd {
	r.setNX.Add(1)
	return redis.NewBoolResult(true, nil)
}

func (r *leaseRedis) EvalSha(_ context.Context, _ string, _ []string, _ ...any) *redis.Cmd {
	return redis.NewCmdResult(r.refresh.Load(), nil)
}

func TestRedisSemaphore_LostLeaseDropsOwnership(t *testing.T) {
	client := &leaseRedis{}
	sem := NewRedisSemaphore(client, RedisConfig{SchedName: "test", TTL: 30 * time.Millisecond, Logger: quietLogger()})
	ctx := WithOwner(context.Background(), "a")

	if err := sem.Acquire(ctx, nil, StateAccess); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Продление возвращает 0: ключа с нашим токеном больше нет
	deadline := time.Now().Add(time.Second)
	for sem.IsOwner(ctx, StateAccess) {
		if time.Now().After(deadline) {
			t.Fatal("owner still holds a lost lease")
		}
		time.Sleep(5 * time.Millisecond)
	}

	client.refresh.Store(1)
	if err := sem.Acquire(ctx, nil, StateAccess); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := client.setNX.Load(); got != 2 {
		t.Errorf("re-acquire after lost lease must take the key again, SETNX calls = %d", got)
	}
	if !sem.IsOwner(ctx, StateAccess) {
		t.Error("expected ownership after re-acquire")
	}

	sem.Release(ctx, StateAccess)
	if sem.IsOwner(ctx, StateAccess) {
		t.Error("expected lock released")
	}
}
