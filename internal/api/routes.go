package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Instances
	mux.Handle("GET /api/v1/cluster/instances", chain(http.HandlerFunc(h.ListInstances)))
	mux.Handle("GET /api/v1/cluster/instances/{id}/fired-triggers", chain(http.HandlerFunc(h.ListInstanceFiredTriggers)))

	// Fired triggers
	mux.Handle("GET /api/v1/cluster/fired-triggers", chain(http.HandlerFunc(h.ListFiredTriggers)))

	// Recovery
	mux.Handle("POST /api/v1/cluster/recovery", chain(http.HandlerFunc(h.RunRecovery)))
}
