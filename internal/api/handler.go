package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/shaiso/jobstore/internal/cluster"
	"github.com/shaiso/jobstore/internal/domain"
)

// Cluster — то, что API нужно от координатора кластера.
type Cluster interface {
	InstanceID() string
	Instances(ctx context.Context) ([]cluster.InstanceStatus, error)
	FiredTriggers(ctx context.Context, instanceID string) ([]domain.FiredTrigger, error)
	FiredTriggersForJob(ctx context.Context, key domain.JobKey) ([]domain.FiredTrigger, error)
	AllFiredTriggers(ctx context.Context) ([]domain.FiredTrigger, error)
	FailureDeadline(s domain.SchedulerState) time.Time
	RunRecoveryCycle(ctx context.Context) (cluster.RecoveryResult, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	cluster Cluster
	logger  *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Cluster Cluster
	Logger  *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		cluster: cfg.Cluster,
		logger:  logger,
	}
}
