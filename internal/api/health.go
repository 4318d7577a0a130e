package api

import (
	"net/http"

	"github.com/ArnavK-09/tsc-deploy-sub000/internal/store"
)

// HealthHandler serves the /healthz liveness/readiness probe
// (SPEC_FULL §12.2).
type HealthHandler struct {
	store store.Store
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(st store.Store) *HealthHandler {
	return &HealthHandler{store: st}
}

// Check handles GET /healthz: pings the Store and reports 200 if reachable,
// 503 otherwise.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		errJSON(w, http.StatusServiceUnavailable, "store unreachable", "unavailable")
		return
	}
	ok(w, healthResponse{Status: "ok"})
}

type healthResponse struct {
	Status string `json:"status"`
}
