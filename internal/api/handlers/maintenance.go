package handlers

import (
	"context"
	"net/http"

	"github.com/pipewrench-ai/pipewrench/internal/api"
	"github.com/pipewrench-ai/pipewrench/internal/service"
)

type MaintenanceService interface {
	ReindexAll(ctx context.Context) (int, error)
	ContentReview(ctx context.Context) ([]service.ReviewItem, error)
	HealthCheck(ctx context.Context) service.HealthStatus
}

type MaintenanceHandler struct {
	svc MaintenanceService
}

func NewMaintenanceHandler(svc MaintenanceService) *MaintenanceHandler {
	return &MaintenanceHandler{svc: svc}
}

type ReindexResponse struct {
	Indexed int `json:"indexed"`
}

// Reindex re-chunks and re-embeds every registered document. Partial
// failure still reports how many documents were rebuilt.
func (h *MaintenanceHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	indexed, err := h.svc.ReindexAll(r.Context())
	if err != nil {
		api.JSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":   err.Error(),
			"indexed": indexed,
		})
		return
	}
	api.Success(w, http.StatusOK, &ReindexResponse{Indexed: indexed})
}

// Review lists documents due for content review.
func (h *MaintenanceHandler) Review(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ContentReview(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, items)
}

// Health reports index reachability and the last successful write.
func (h *MaintenanceHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := h.svc.HealthCheck(r.Context())
	code := http.StatusOK
	if !status.IndexReachable {
		code = http.StatusServiceUnavailable
	}
	api.Success(w, code, status)
}
