package api

import (
	"time"

	"github.com/shaiso/jobstore/internal/cluster"
	"github.com/shaiso/jobstore/internal/domain"
)

// Instance DTOs

// InstanceResponse — запись живости инстанса.
type InstanceResponse struct {
	InstanceID        string     `json:"instance_id"`
	LastCheckinTime   time.Time  `json:"last_checkin_time"`
	CheckinInterval   string     `json:"checkin_interval"`
	FailureDeadline   time.Time  `json:"failure_deadline"`
	Failed            bool       `json:"failed"`
	Self              bool       `json:"self"`
	RecovererID       string     `json:"recoverer_id,omitempty"`
	RecoveryStartedAt *time.Time `json:"recovery_started_at,omitempty"`
}

// InstanceFromStatus конвертирует cluster.InstanceStatus в InstanceResponse.
func InstanceFromStatus(s cluster.InstanceStatus, deadline time.Time) InstanceResponse {
	return InstanceResponse{
		InstanceID:        s.InstanceID,
		LastCheckinTime:   s.LastCheckinTime,
		CheckinInterval:   s.CheckinInterval.String(),
		FailureDeadline:   deadline,
		Failed:            s.Failed,
		Self:              s.Self,
		RecovererID:       s.RecovererID,
		RecoveryStartedAt: s.RecoveryStartedAt,
	}
}

// FiredTrigger DTOs

// FiredTriggerResponse — эпизод срабатывания.
type FiredTriggerResponse struct {
	FireInstanceID      string     `json:"fire_instance_id"`
	SchedulerInstanceID string     `json:"scheduler_instance_id"`
	TriggerName         string     `json:"trigger_name"`
	TriggerGroup        string     `json:"trigger_group"`
	JobName             string     `json:"job_name"`
	JobGroup            string     `json:"job_group"`
	State               string     `json:"state"`
	FireTimestamp       time.Time  `json:"fire_timestamp"`
	ScheduledTime       *time.Time `json:"scheduled_time,omitempty"`
	Priority            int        `json:"priority"`
	JobIsStateful       bool       `json:"job_is_stateful"`
	JobRequestsRecovery bool       `json:"job_requests_recovery"`
	TriggerIsVolatile   bool       `json:"trigger_is_volatile"`
}

// FiredTriggerFromDomain конвертирует domain.FiredTrigger в FiredTriggerResponse.
func FiredTriggerFromDomain(ft domain.FiredTrigger) FiredTriggerResponse {
	return FiredTriggerResponse{
		FireInstanceID:      ft.FireInstanceID,
		SchedulerInstanceID: ft.SchedulerInstanceID,
		TriggerName:         ft.TriggerKey.Name,
		TriggerGroup:        ft.TriggerKey.Group,
		JobName:             ft.JobKey.Name,
		JobGroup:            ft.JobKey.Group,
		State:               string(ft.State),
		FireTimestamp:       ft.FireTimestamp,
		ScheduledTime:       ft.ScheduledTime,
		Priority:            ft.Priority,
		JobIsStateful:       ft.JobIsStateful,
		JobRequestsRecovery: ft.JobRequestsRecovery,
		TriggerIsVolatile:   ft.TriggerIsVolatile,
	}
}

// FiredTriggersFromDomain конвертирует список эпизодов.
func FiredTriggersFromDomain(fts []domain.FiredTrigger) []FiredTriggerResponse {
	result := make([]FiredTriggerResponse, len(fts))
	for i, ft := range fts {
		result[i] = FiredTriggerFromDomain(ft)
	}
	return result
}

// Recovery DTOs

// RecoveryResponse — итог цикла восстановления.
type RecoveryResponse struct {
	InstanceID  string    `json:"instance_id"`
	CheckinTime time.Time `json:"checkin_time"`
	Recovered   []string  `json:"recovered"`
	Skipped     []string  `json:"skipped,omitempty"`
	Refired     int       `json:"refired"`
	Released    int       `json:"released"`
	Deleted     int       `json:"deleted"`
}

// RecoveryFromResult конвертирует cluster.RecoveryResult в RecoveryResponse.
func RecoveryFromResult(instanceID string, r cluster.RecoveryResult) RecoveryResponse {
	recovered := r.Recovered
	if recovered == nil {
		recovered = []string{}
	}
	return RecoveryResponse{
		InstanceID:  instanceID,
		CheckinTime: r.CheckinTime,
		Recovered:   recovered,
		Skipped:     r.Skipped,
		Refired:     r.Refired,
		Released:    r.Released,
		Deleted:     r.Deleted,
	}
}
