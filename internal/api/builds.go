package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ArnavK-09/tsc-deploy-sub000/internal/apperr"
	"github.com/ArnavK-09/tsc-deploy-sub000/internal/ingest"
	"github.com/ArnavK-09/tsc-deploy-sub000/internal/queue"
	"github.com/ArnavK-09/tsc-deploy-sub000/internal/store"
)

// BuildHandler serves the ingest and status-query endpoints (§4.7, §6).
type BuildHandler struct {
	ingester *ingest.Ingester
	queue    *queue.Queue
	logger   *zap.Logger
}

// NewBuildHandler constructs a BuildHandler.
func NewBuildHandler(ingester *ingest.Ingester, q *queue.Queue, logger *zap.Logger) *BuildHandler {
	return &BuildHandler{ingester: ingester, queue: q, logger: logger.Named("build_handler")}
}

// Submit handles POST /api/v1/builds: decode, authenticate, and forward to
// the Ingester.
func (h *BuildHandler) Submit(w http.ResponseWriter, r *http.Request) {
	cred := credentialFromCtx(r.Context())

	var req ingest.Request
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.ingester.Submit(r.Context(), req, cred)
	if err != nil {
		writeIngestError(w, err)
		return
	}
	created(w, result)
}

// Status handles GET /api/v1/builds/{jobId}.
func (h *BuildHandler) Status(w http.ResponseWriter, r *http.Request, jobID string) {
	if jobID == "" {
		errBadRequest(w, "jobId is required")
		return
	}

	status, err := h.queue.Status(r.Context(), jobID)
	if err != nil {
		writeIngestError(w, err)
		return
	}

	ok(w, statusResponse{
		JobID:         status.JobID,
		DeploymentID:  status.DeploymentID,
		Status:        string(status.Status),
		Progress:      status.Progress,
		QueuePosition: status.QueuePosition,
		ErrorMessage:  status.ErrorMessage,
	})
}

type statusResponse struct {
	JobID         string `json:"jobId"`
	DeploymentID  string `json:"deploymentId"`
	Status        string `json:"status"`
	Progress      int    `json:"progress"`
	QueuePosition int    `json:"queuePosition,omitempty"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
}

// writeIngestError classifies an error returned by the ingest/store/queue
// layers into the right HTTP status, per §6/§7's error-handling contract.
func writeIngestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		errNotFound(w, "job not found")
	case errors.Is(err, ingest.ErrUnknownEventKind):
		errBadRequest(w, err.Error())
	case apperr.KindOf(err) == apperr.KindNonRetryable:
		errBadRequest(w, err.Error())
	default:
		errInternal(w)
	}
}
