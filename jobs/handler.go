package jobs

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/brightbooks/brightbooks/internal/platform/httpx"
	"github.com/brightbooks/brightbooks/internal/shared"
)

// Enqueuer submits a matching run to the queue. Satisfied by *Client.
type Enqueuer interface {
	EnqueueMatchBatch(ctx context.Context, payload MatchBatchPayload) (*asynq.TaskInfo, error)
}

// Handler exposes the job-scheduling endpoint.
type Handler struct {
	logger *slog.Logger
	client Enqueuer
}

// NewHandler constructs an HTTP handler for job scheduling.
func NewHandler(logger *slog.Logger, client Enqueuer) *Handler {
	return &Handler{logger: logger, client: client}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/jobs/match", h.scheduleMatch)
}

type scheduleMatchRequest struct {
	TransactionIDs []uuid.UUID `json:"transaction_ids"`
}

func (h *Handler) scheduleMatch(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant header is required")
		return
	}

	var req scheduleMatchRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, httpx.ErrBadRequest)
			return
		}
	}

	info, err := h.client.EnqueueMatchBatch(r.Context(), MatchBatchPayload{
		TenantID:       tenantID,
		TransactionIDs: req.TransactionIDs,
	})
	if err != nil {
		h.logger.Error("enqueue match batch", slog.Any("error", err))
		httpx.RespondError(w, &shared.ExternalServiceError{Service: "queue", Err: err})
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{
		"task_id": info.ID,
		"queue":   info.Queue,
	})
}
