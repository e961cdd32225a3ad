package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/jobstore/internal/lock"
	"github.com/shaiso/jobstore/internal/mq"
	"github.com/shaiso/jobstore/internal/repo"
	"github.com/shaiso/jobstore/internal/telemetry"
)

// Default configuration values.
const (
	DefaultCheckinInterval        = 7500 * time.Millisecond
	DefaultMissedCheckinThreshold = 2.0
)

var (
	// ErrCoordinatorStopped — Coordinator уже остановлен.
	ErrCoordinatorStopped = errors.New("cluster coordinator stopped")

	// ErrAlreadyStarted — повторный Start.
	ErrAlreadyStarted = errors.New("cluster coordinator already started")
)

// EventPublisher публикует события восстановления.
// Реализуется *mq.Publisher.
type EventPublisher interface {
	PublishInstanceFailed(ctx context.Context, payload mq.InstanceFailedPayload) error
	PublishTriggerRecovered(ctx context.Context, payload mq.TriggerRecoveredPayload) error
}

// Coordinator — check-in и восстановление упавших инстансов.
type Coordinator struct {
	stores repo.Stores
	exec   *lock.Executor

	instanceID      string
	checkinInterval time.Duration
	threshold       float64

	publisher EventPublisher
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	now       func() time.Time

	// cycleMu сериализует циклы из таймера и из API.
	cycleMu sync.Mutex

	// startedAt — начало текущей жизни инстанса. Свои fired_triggers
	// старше этого момента остались от прошлого запуска с тем же id.
	startedAt     time.Time
	selfRecovered bool

	// registered — хотя бы один check-in записан.
	registered bool

	// Lifecycle
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	started    bool
	stopped    bool
	stateMu    sync.RWMutex
}

// Config — конфигурация Coordinator.
type Config struct {
	Stores    repo.Stores
	Semaphore lock.Semaphore

	// InstanceID — уникальный идентификатор этого инстанса.
	InstanceID string

	CheckinInterval time.Duration // период check-in (default: 7.5s)

	// MissedCheckinThreshold — сколько интервалов можно пропустить,
	// прежде чем инстанс считается упавшим (default: 2).
	MissedCheckinThreshold float64

	// AcquireTimeout — предел ожидания блокировок. 0 — без предела.
	AcquireTimeout time.Duration

	Publisher EventPublisher     // опционально
	Metrics   *telemetry.Metrics // опционально
	Logger    *slog.Logger

	// Now подменяет часы в тестах.
	Now func() time.Time
}

// New создаёт новый Coordinator.
func New(cfg Config) *Coordinator {
	interval := cfg.CheckinInterval
	if interval <= 0 {
		interval = DefaultCheckinInterval
	}

	threshold := cfg.MissedCheckinThreshold
	if threshold <= 0 {
		threshold = DefaultMissedCheckinThreshold
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NewMetrics(nil)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Coordinator{
		stores: cfg.Stores,
		exec: &lock.Executor{
			DB:             cfg.Stores.DB,
			Sem:            cfg.Semaphore,
			AcquireTimeout: cfg.AcquireTimeout,
		},
		instanceID:      cfg.InstanceID,
		checkinInterval: interval,
		threshold:       threshold,
		publisher:       cfg.Publisher,
		metrics:         metrics,
		logger:          telemetry.WithInstanceID(logger, cfg.InstanceID),
		now:             now,
		startedAt:       now(),
	}
}

// InstanceID возвращает идентификатор инстанса.
func (c *Coordinator) InstanceID() string {
	return c.instanceID
}

// CheckinInterval возвращает период check-in.
func (c *Coordinator) CheckinInterval() time.Duration {
	return c.checkinInterval
}

// Threshold возвращает множитель пропущенных check-in.
func (c *Coordinator) Threshold() float64 {
	return c.threshold
}

// Start выполняет первый check-in и запускает периодический цикл.
//
// Ошибка первого check-in возвращается: без записи живости инстанс
// нельзя отличить от упавшего. Ошибка восстановления в первом цикле
// только логируется.
func (c *Coordinator) Start(ctx context.Context) error {
	c.stateMu.Lock()
	if c.stopped {
		c.stateMu.Unlock()
		return ErrCoordinatorStopped
	}
	if c.started {
		c.stateMu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.stateMu.Unlock()

	c.cycleMu.Lock()
	c.startedAt = c.now()
	c.cycleMu.Unlock()

	c.logger.Info("starting cluster coordinator",
		"checkin_interval", c.checkinInterval,
		"missed_checkin_threshold", c.threshold,
	)

	if _, err := c.RunRecoveryCycle(ctx); err != nil {
		var ce *checkinError
		if errors.As(err, &ce) {
			return err
		}
		c.logger.Error("initial recovery cycle failed", "error", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.loop(ctx)
	}()

	c.logger.Info("cluster coordinator started")
	return nil
}

// Stop останавливает цикл и удаляет запись живости инстанса.
//
// Если у инстанса остались эпизоды, запись остаётся: соседи восстановят
// их обычным порядком, когда истечёт срок check-in, а перезапуск с тем же
// id подберёт их сам.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.stateMu.Lock()
	if c.stopped {
		c.stateMu.Unlock()
		return nil
	}
	c.stopped = true
	c.stateMu.Unlock()

	c.logger.Info("stopping cluster coordinator...")

	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	c.wg.Wait()

	// Дожидаемся цикла, запущенного через API
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	var inFlight int
	err := c.exec.Run(ctx, []string{lock.StateAccess}, func(ctx context.Context, db repo.DBTX) error {
		fired, err := c.stores.FiredTriggers.FindBySchedulerInstanceID(ctx, db, c.instanceID)
		if err != nil {
			return fmt.Errorf("find own fired triggers: %w", err)
		}
		// Без записи живости эпизоды стали бы сиротами и были бы
		// перезапущены на следующем цикле соседей.
		if inFlight = len(fired); inFlight > 0 {
			return nil
		}

		err = c.stores.SchedulerStates.Delete(ctx, db, c.instanceID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove scheduler state: %w", err)
	}

	if inFlight > 0 {
		c.logger.Warn("fired triggers still in flight, keeping scheduler state until failure deadline",
			"fired_triggers", inFlight,
		)
	}
	c.logger.Info("cluster coordinator stopped")
	return nil
}

// IsStopped проверяет, остановлен ли Coordinator.
func (c *Coordinator) IsStopped() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.stopped
}

// loop — периодический цикл check-in и восстановления.
func (c *Coordinator) loop(ctx context.Context) {
	ticker := time.NewTicker(c.checkinInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.RunRecoveryCycle(ctx); err != nil && ctx.Err() == nil {
				// Следующая попытка — на следующем тике
				c.logger.Error("recovery cycle failed", "error", err)
			}
		}
	}
}
