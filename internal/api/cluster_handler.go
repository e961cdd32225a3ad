package api

import (
	"net/http"

	"github.com/shaiso/jobstore/internal/domain"
	"github.com/shaiso/jobstore/internal/telemetry"
)

// ListInstances возвращает записи живости всех инстансов.
// GET /api/v1/cluster/instances
func (h *Handler) ListInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := h.cluster.Instances(r.Context())
	if HandleClusterError(w, h.logger, err, "") {
		return
	}

	result := make([]InstanceResponse, len(instances))
	for i, s := range instances {
		result[i] = InstanceFromStatus(s, h.cluster.FailureDeadline(s.SchedulerState))
	}

	List(w, result, len(result))
}

// ListInstanceFiredTriggers возвращает эпизоды срабатывания инстанса.
// GET /api/v1/cluster/instances/{id}/fired-triggers
func (h *Handler) ListInstanceFiredTriggers(w http.ResponseWriter, r *http.Request) {
	instanceID := r.PathValue("id")
	if instanceID == "" {
		BadRequest(w, "instance id is required")
		return
	}

	fired, err := h.cluster.FiredTriggers(r.Context(), instanceID)
	if HandleClusterError(w, h.logger, err, "") {
		return
	}

	result := FiredTriggersFromDomain(fired)
	List(w, result, len(result))
}

// ListFiredTriggers возвращает эпизоды срабатывания кластера.
// GET /api/v1/cluster/fired-triggers?job=group.name
func (h *Handler) ListFiredTriggers(w http.ResponseWriter, r *http.Request) {
	var (
		fired []domain.FiredTrigger
		err   error
	)

	if job := r.URL.Query().Get("job"); job != "" {
		key, parseErr := domain.ParseJobKey(job)
		if parseErr != nil {
			BadRequest(w, parseErr.Error())
			return
		}
		fired, err = h.cluster.FiredTriggersForJob(r.Context(), key)
	} else {
		fired, err = h.cluster.AllFiredTriggers(r.Context())
	}
	if HandleClusterError(w, h.logger, err, "") {
		return
	}

	result := FiredTriggersFromDomain(fired)
	List(w, result, len(result))
}

// RunRecovery запускает цикл восстановления на этом инстансе.
// POST /api/v1/cluster/recovery
func (h *Handler) RunRecovery(w http.ResponseWriter, r *http.Request) {
	res, err := h.cluster.RunRecoveryCycle(r.Context())
	if HandleClusterError(w, h.logger, err, "") {
		return
	}

	telemetry.FromContext(r.Context()).Info("recovery cycle triggered via api",
		"recovered", len(res.Recovered),
		"refired", res.Refired,
	)

	Success(w, RecoveryFromResult(h.cluster.InstanceID(), res))
}
