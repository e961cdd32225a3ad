// jobstore-node — узел кластера планировщика.
//
// Узел:
//   - Регистрирует себя в scheduler_state и делает check-in
//   - Находит упавшие инстансы и восстанавливает их эпизоды срабатывания
//   - Опционально выдаёт due triggers исполнителям через RabbitMQ
//   - Отдаёт /healthz, /metrics и API диагностики кластера
//
// Конфигурация: переменные JOBSTORE_*, файл --config, .env.
//
// Использование:
//
//	jobstore-node [--config FILE]
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/shaiso/jobstore/internal/api"
	"github.com/shaiso/jobstore/internal/cluster"
	"github.com/shaiso/jobstore/internal/config"
	"github.com/shaiso/jobstore/internal/dispatch"
	"github.com/shaiso/jobstore/internal/jobstore"
	"github.com/shaiso/jobstore/internal/lock"
	"github.com/shaiso/jobstore/internal/mq"
	"github.com/shaiso/jobstore/internal/repo"
	"github.com/shaiso/jobstore/internal/repo/memrepo"
	"github.com/shaiso/jobstore/internal/telemetry"
)

const shutdownTimeout = 15 * time.Second

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "jobstore-node",
		Short:         "Clustered job store node",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// .env необязателен
			if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}

			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}

			logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
			logger.Info("starting jobstore-node",
				"instance_id", cfg.InstanceID,
				"scheduler_name", cfg.SchedulerName,
				"clustered", cfg.Clustered,
				"store", cfg.Store.Driver,
				"lock_mode", cfg.Lock.Mode,
			)

			if err := run(cmd.Context(), cfg, logger); err != nil {
				logger.Error("jobstore-node failed", "error", err)
				return err
			}
			logger.Info("jobstore-node stopped")
			return nil
		},
	}

	rootCmd.Flags().StringVar(&configFile, "config", "", "Path to YAML config file")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	// Хранилище
	stores, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Блокировки
	sem, closeSem, err := newSemaphore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSem()
	sem = lock.Observed(sem, metrics.ObserveLockWait)

	// RabbitMQ
	var (
		mqConn    *mq.Connection
		publisher *mq.Publisher
	)
	if cfg.AMQP.URL != "" {
		mqConn, err = mq.NewConnection(mq.ConnectionConfig{
			URL:       cfg.AMQP.URL,
			Name:      "jobstore-node/" + cfg.InstanceID,
			OnConnect: mq.DeclareTopology,
			Logger:    logger,
		})
		if err != nil {
			logger.Warn("RabbitMQ not available, cluster events disabled", "error", err)
		} else {
			defer mqConn.Close()
			logger.Info("RabbitMQ connected")

			publisher = mq.NewPublisher(mqConn, logger)
		}
	}

	// Координатор кластера
	coordCfg := cluster.Config{
		Stores:                 stores,
		Semaphore:              sem,
		InstanceID:             cfg.InstanceID,
		CheckinInterval:        cfg.CheckinInterval,
		MissedCheckinThreshold: float64(cfg.MissedCheckinThreshold),
		AcquireTimeout:         cfg.Lock.AcquireTimeout,
		Metrics:                metrics,
		Logger:                 logger,
	}
	if publisher != nil {
		coordCfg.Publisher = publisher
	}
	coord := cluster.New(coordCfg)

	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("start cluster coordinator: %w", err)
	}

	// Выдача triggers
	var dispatcher *dispatch.Dispatcher
	if cfg.Dispatch.Enabled {
		if publisher == nil {
			logger.Warn("dispatch enabled but RabbitMQ is not connected, dispatcher not started")
		} else {
			store := jobstore.New(jobstore.Config{
				Stores:         stores,
				Semaphore:      sem,
				InstanceID:     cfg.InstanceID,
				AcquireTimeout: cfg.Lock.AcquireTimeout,
				Logger:         logger,
			})
			dispatcher = dispatch.New(dispatch.Config{
				Store:        store,
				Publisher:    publisher,
				Conn:         mqConn,
				PollInterval: cfg.Dispatch.PollInterval,
				BatchSize:    cfg.Dispatch.BatchSize,
				Lookahead:    cfg.Dispatch.Lookahead,
				Metrics:      metrics,
				Logger:       logger,
			})
			if err := dispatcher.Start(ctx); err != nil {
				return fmt.Errorf("start dispatcher: %w", err)
			}
		}
	}

	// HTTP: /healthz, /metrics, API
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if coord.IsStopped() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("stopped"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	api.NewHandler(api.Config{Cluster: coord, Logger: logger}).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if dispatcher != nil {
		dispatcher.Stop()
	}
	if err := coord.Stop(shutdownCtx); err != nil {
		logger.Error("cluster coordinator shutdown error", "error", err)
	}
	return nil
}

// openStore открывает хранилище по store.driver.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repo.Stores, func(), error) {
	if cfg.Store.Driver == config.DriverMemory {
		logger.Info("using in-memory store")
		return memrepo.New().Stores(), func() {}, nil
	}

	pool, err := repo.NewPool(ctx, cfg.Store.DSN, cfg.Store.MaxConns)
	if err != nil {
		return repo.Stores{}, nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info("database connected")

	if cfg.Store.Migrate {
		if err := repo.Migrate(ctx, pool); err != nil {
			pool.Close()
			return repo.Stores{}, nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied")
	}

	return repo.NewPostgresStores(repo.NewDB(pool), cfg.SchedulerName), pool.Close, nil
}

// newSemaphore собирает семафор по lock.mode. Межпроцессная блокировка
// всегда берётся поверх локальной: горутины процесса ждут друг друга,
// не занимая соединений пула.
func newSemaphore(cfg *config.Config, logger *slog.Logger) (lock.Semaphore, func(), error) {
	local := lock.NewLocalSemaphore(logger)
	noop := func() {}

	var (
		remote lock.Semaphore
		closer = noop
	)

	switch cfg.Lock.Mode {
	case config.LockModeLocal:
		return local, noop, nil
	case config.LockModeRow:
		remote = lock.NewRowSemaphore(cfg.SchedulerName, logger)
	case config.LockModeAdvisory:
		remote = lock.NewAdvisorySemaphore(cfg.SchedulerName, logger)
	case config.LockModeRedis:
		opts, err := redis.ParseURL(cfg.Lock.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse lock.redis_url: %w", err)
		}
		client := redis.NewClient(opts)
		closer = func() {
			if err := client.Close(); err != nil {
				logger.Warn("failed to close redis client", "error", err)
			}
		}
		remote = lock.NewRedisSemaphore(client, lock.RedisConfig{
			SchedName: cfg.SchedulerName,
			TTL:       cfg.Lock.RedisTTL,
			Logger:    logger,
		})
	default:
		return nil, nil, fmt.Errorf("unknown lock.mode %q", cfg.Lock.Mode)
	}

	return lock.Tiered(local, remote), closer, nil
}
