package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/shaiso/jobstore/internal/domain"
	"github.com/shaiso/jobstore/internal/jobstore"
	"github.com/shaiso/jobstore/internal/mq"
	"github.com/shaiso/jobstore/internal/telemetry"
)

// Default configuration values.
const (
	defaultPollInterval = time.Second
	defaultBatchSize    = 10
	defaultPrefetch     = 10
)

// FirePublisher — получатель сообщений job.fire.
type FirePublisher interface {
	PublishJobFire(ctx context.Context, payload mq.JobFirePayload) error
}

// NextFireFunc вычисляет следующее срабатывание trigger после ft.
// nil — срабатываний больше нет.
type NextFireFunc func(ft *domain.FiredTrigger) *time.Time

// OneShot — NextFireFunc для одноразовых triggers.
func OneShot(*domain.FiredTrigger) *time.Time {
	return nil
}

// Dispatcher — цикл выдачи triggers на исполнение.
type Dispatcher struct {
	store     *jobstore.Store
	publisher FirePublisher
	conn      *mq.Connection
	nextFire  NextFireFunc
	metrics   *telemetry.Metrics
	now       func() time.Time

	pollInterval time.Duration
	batchSize    int
	lookahead    time.Duration

	consumer   *mq.Consumer
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Dispatcher.
type Config struct {
	Store     *jobstore.Store
	Publisher FirePublisher

	// Conn — соединение для потребления jobs.completed.
	// nil — результаты не потребляются.
	Conn *mq.Connection

	// NextFire — расчёт следующего срабатывания (default: OneShot).
	NextFire NextFireFunc

	PollInterval time.Duration // интервал polling (default: 1s)
	BatchSize    int           // triggers за один poll (default: 10)
	Lookahead    time.Duration // насколько вперёд захватывать triggers

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// New создаёт новый Dispatcher.
func New(cfg Config) *Dispatcher {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	nextFire := cfg.NextFire
	if nextFire == nil {
		nextFire = OneShot
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Dispatcher{
		store:        cfg.Store,
		publisher:    cfg.Publisher,
		conn:         cfg.Conn,
		nextFire:     nextFire,
		metrics:      cfg.Metrics,
		now:          now,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		lookahead:    cfg.Lookahead,
		logger:       logger,
	}
}

// Start запускает polling и, если задано соединение, consumer jobs.completed.
func (d *Dispatcher) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancelFunc = cancel

	d.logger.Info("starting dispatcher",
		"poll_interval", d.pollInterval,
		"batch_size", d.batchSize,
		"lookahead", d.lookahead,
	)

	if d.conn != nil {
		d.consumer = mq.NewConsumer(d.conn, d.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueJobsCompleted),
			Handler:  d.handleJobCompleted,
			Prefetch: defaultPrefetch,
		})

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Error("completion consumer error", "error", err)
			}
		}()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.pollLoop(ctx)
	}()

	return nil
}

// Stop останавливает Dispatcher и ждёт завершения горутин.
func (d *Dispatcher) Stop() {
	d.stoppedMu.Lock()
	d.stopped = true
	d.stoppedMu.Unlock()

	d.logger.Info("stopping dispatcher...")

	if d.cancelFunc != nil {
		d.cancelFunc()
	}
	if d.consumer != nil {
		d.consumer.Stop()
	}

	d.wg.Wait()

	d.logger.Info("dispatcher stopped")
}

// IsStopped проверяет, остановлен ли Dispatcher.
func (d *Dispatcher) IsStopped() bool {
	d.stoppedMu.RLock()
	defer d.stoppedMu.RUnlock()
	return d.stopped
}

// pollLoop — цикл захвата triggers.
func (d *Dispatcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := d.Poll(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("dispatch poll failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll выполняет один цикл: захватывает due triggers и публикует их.
// Возвращает число опубликованных эпизодов.
//
// Ошибка одного trigger не мешает остальным.
func (d *Dispatcher) Poll(ctx context.Context) (int, error) {
	fired, err := d.store.AcquireNextTriggers(ctx, d.now().Add(d.lookahead), d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("acquire triggers: %w", err)
	}

	var published int
	for i := range fired {
		ft := &fired[i]
		if err := d.dispatch(ctx, ft); err != nil {
			d.logger.Error("failed to dispatch trigger",
				"fire_instance_id", ft.FireInstanceID,
				"trigger_key", ft.TriggerKey.String(),
				"error", err,
			)
			continue
		}
		published++
	}

	if published > 0 {
		d.logger.Debug("dispatched triggers", "count", published)
	}
	return published, nil
}

// dispatch переводит один эпизод в EXECUTING и публикует job.fire.
func (d *Dispatcher) dispatch(ctx context.Context, ft *domain.FiredTrigger) error {
	logger := d.logger.With("fire_instance_id", ft.FireInstanceID)

	var next *time.Time
	if ft.TriggerKey.Group != domain.RecoveringJobsGroup {
		next = d.nextFire(ft)
	}

	bundle, err := d.store.TriggerFired(ctx, ft, next)
	if errors.Is(err, jobstore.ErrFiredTriggerNotFound) {
		logger.Debug("fired trigger gone before firing")
		return nil
	}
	if err != nil {
		if releaseErr := d.store.ReleaseAcquiredTrigger(ctx, ft); releaseErr != nil {
			logger.Warn("failed to release trigger", "error", releaseErr)
		}
		if errors.Is(err, jobstore.ErrTriggerNotAcquired) {
			logger.Debug("trigger released before firing", "trigger_key", ft.TriggerKey.String())
			return nil
		}
		return fmt.Errorf("trigger fired: %w", err)
	}

	payload := firePayload(bundle)
	if err := d.publisher.PublishJobFire(ctx, payload); err != nil {
		// Исполнитель job не получит, эпизод закрываем сразу.
		if completeErr := d.store.TriggeredJobComplete(ctx, &bundle.Fired); completeErr != nil {
			logger.Warn("failed to close unpublished fired trigger", "error", completeErr)
		}
		return fmt.Errorf("publish job.fire: %w", err)
	}

	if d.metrics != nil {
		d.metrics.Dispatched.Inc()
	}

	logger.Info("job fired",
		"trigger_key", bundle.Trigger.Key.String(),
		"job_key", bundle.Job.Key.String(),
		"recovering", bundle.Recovering,
	)
	return nil
}

// handleJobCompleted закрывает эпизод по сообщению исполнителя.
func (d *Dispatcher) handleJobCompleted(ctx context.Context, msg *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.JobCompletedPayload](&msg.Message)
	if err != nil {
		return mq.Permanent(fmt.Errorf("parse job.completed: %w", err))
	}
	if payload.FireInstanceID == "" {
		return mq.Permanent(errors.New("job.completed without fire_instance_id"))
	}

	logger := d.logger.With("fire_instance_id", payload.FireInstanceID)

	err = d.store.TriggeredJobComplete(ctx, &domain.FiredTrigger{FireInstanceID: payload.FireInstanceID})
	if errors.Is(err, jobstore.ErrFiredTriggerNotFound) {
		// Эпизод уже разобран восстановлением.
		logger.Warn("completion for unknown fired trigger")
		return nil
	}
	if err != nil {
		return fmt.Errorf("complete fired trigger: %w", err)
	}

	if payload.Status == mq.JobStatusFailed {
		logger.Warn("job failed", "error", payload.Error)
	} else {
		logger.Info("job completed", "status", payload.Status)
	}
	return nil
}

// firePayload собирает job.fire. JobData trigger перекрывает JobData job.
func firePayload(b *jobstore.FiredBundle) mq.JobFirePayload {
	var data map[string]any
	if len(b.Job.JobData) > 0 || len(b.Trigger.JobData) > 0 {
		data = make(map[string]any, len(b.Job.JobData)+len(b.Trigger.JobData))
		maps.Copy(data, b.Job.JobData)
		maps.Copy(data, b.Trigger.JobData)
	}

	return mq.JobFirePayload{
		FireInstanceID: b.Fired.FireInstanceID,
		InstanceID:     b.Fired.SchedulerInstanceID,
		TriggerName:    b.Trigger.Key.Name,
		TriggerGroup:   b.Trigger.Key.Group,
		JobName:        b.Job.Key.Name,
		JobGroup:       b.Job.Key.Group,
		ScheduledTime:  b.Fired.ScheduledTime,
		FireTime:       b.Fired.FireTimestamp,
		Recovering:     b.Recovering,
		JobData:        data,
	}
}
