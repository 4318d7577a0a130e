package api

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ArnavK-09/tsc-deploy-sub000/internal/store"
)

// ArtifactHandler serves artifact downloads (§6: "returns the stored
// payload as application/json with a Content-Disposition attachment header
// and 24h cache-control").
type ArtifactHandler struct {
	store  store.Store
	logger *zap.Logger
}

// NewArtifactHandler constructs an ArtifactHandler.
func NewArtifactHandler(st store.Store, logger *zap.Logger) *ArtifactHandler {
	return &ArtifactHandler{store: st, logger: logger.Named("artifact_handler")}
}

// Download handles GET /api/v1/artifacts/{id}.
func (h *ArtifactHandler) Download(w http.ResponseWriter, r *http.Request, id string) {
	artifact, err := h.store.GetArtifact(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			errNotFound(w, "artifact not found")
			return
		}
		h.logger.Error("failed to load artifact", zap.String("artifact_id", id), zap.Error(err))
		errInternal(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.FileName))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(artifact.Payload))
}

// ListByJob handles GET /api/v1/builds/{jobId}/artifacts.
func (h *ArtifactHandler) ListByJob(w http.ResponseWriter, r *http.Request, jobID string) {
	artifacts, err := h.store.ListArtifactsByJob(r.Context(), jobID)
	if err != nil {
		h.logger.Error("failed to list artifacts", zap.String("job_id", jobID), zap.Error(err))
		errInternal(w)
		return
	}

	resp := make([]artifactSummary, 0, len(artifacts))
	for _, a := range artifacts {
		resp = append(resp, artifactSummary{
			ID:            a.ID.String(),
			FileName:      a.FileName,
			FilePath:      a.FilePath,
			FileSizeBytes: a.FileSizeBytes,
			Checksum:      a.Checksum,
		})
	}
	ok(w, resp)
}

type artifactSummary struct {
	ID            string `json:"id"`
	FileName      string `json:"fileName"`
	FilePath      string `json:"filePath"`
	FileSizeBytes int64  `json:"fileSizeBytes"`
	Checksum      string `json:"checksum"`
}
