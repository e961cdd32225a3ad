package cluster

import (
	"context"
	"time"

	"github.com/shaiso/jobstore/internal/domain"
)

// InstanceStatus — запись живости с вычисленным статусом.
type InstanceStatus struct {
	domain.SchedulerState

	// Failed — инстанс пропустил слишком много check-in.
	Failed bool `json:"failed"`

	// Self — это текущий инстанс.
	Self bool `json:"self"`
}

// Instances возвращает записи живости всех инстансов.
// Чтение без блокировок: результат не согласован транзакционно.
func (c *Coordinator) Instances(ctx context.Context) ([]InstanceStatus, error) {
	states, err := c.stores.SchedulerStates.FindAll(ctx, c.stores.Conn)
	if err != nil {
		return nil, err
	}

	now := c.now()
	result := make([]InstanceStatus, 0, len(states))
	for _, s := range states {
		result = append(result, InstanceStatus{
			SchedulerState: s,
			Failed:         s.InstanceID != c.instanceID && s.IsFailed(now, c.threshold),
			Self:           s.InstanceID == c.instanceID,
		})
	}
	return result, nil
}

// FiredTriggers возвращает эпизоды срабатывания инстанса.
func (c *Coordinator) FiredTriggers(ctx context.Context, instanceID string) ([]domain.FiredTrigger, error) {
	return c.stores.FiredTriggers.FindBySchedulerInstanceID(ctx, c.stores.Conn, instanceID)
}

// FiredTriggersForJob возвращает эпизоды срабатывания job.
func (c *Coordinator) FiredTriggersForJob(ctx context.Context, key domain.JobKey) ([]domain.FiredTrigger, error) {
	return c.stores.FiredTriggers.FindByJobKey(ctx, c.stores.Conn, key)
}

// AllFiredTriggers возвращает все эпизоды срабатывания кластера.
func (c *Coordinator) AllFiredTriggers(ctx context.Context) ([]domain.FiredTrigger, error) {
	return c.stores.FiredTriggers.FindAll(ctx, c.stores.Conn)
}

// FailureDeadline — момент, после которого инстанс считается упавшим.
func (c *Coordinator) FailureDeadline(s domain.SchedulerState) time.Time {
	return s.LastCheckinTime.Add(time.Duration(float64(s.CheckinInterval) * c.threshold))
}
