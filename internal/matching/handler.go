package matching

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/brightbooks/brightbooks/internal/platform/httpx"
	"github.com/brightbooks/brightbooks/internal/shared"
)

// Handler exposes the matching endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	repo     *Repository
	provider ThresholdProvider
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, repo *Repository, provider ThresholdProvider) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		repo:     repo,
		provider: provider,
		validate: validator.New(),
	}
}

// MountRoutes registers matching routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/match", h.matchBatch)
	r.Get("/suggestions/{transactionID}", h.suggestions)
	r.Put("/thresholds", h.updateThresholds)
	r.Delete("/thresholds/cache", h.clearThresholdCache)
}

type matchBatchRequest struct {
	TransactionIDs []uuid.UUID `json:"transaction_ids" validate:"omitempty,dive,required"`
}

func (h *Handler) matchBatch(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant header is required")
		return
	}

	var req matchBatchRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, httpx.ErrBadRequest)
			return
		}
		if err := h.validate.Struct(req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}

	result, err := h.service.MatchBatch(r.Context(), tenantID, req.TransactionIDs)
	if err != nil {
		h.logger.Error("match batch", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) suggestions(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant header is required")
		return
	}
	transactionID, err := uuid.Parse(chi.URLParam(r, "transactionID"))
	if err != nil {
		httpx.RespondError(w, httpx.ErrBadRequest)
		return
	}

	candidates, err := h.service.Suggestions(r.Context(), tenantID, transactionID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"candidates": candidates})
}

type thresholdsRequest struct {
	MinCandidateScore      int     `json:"min_candidate_score" validate:"gte=0,lte=100"`
	AutoApplyScore         int     `json:"auto_apply_score" validate:"gte=0,lte=100"`
	HighConfidence         int     `json:"high_confidence" validate:"gte=0,lte=100"`
	MediumConfidence       int     `json:"medium_confidence" validate:"gte=0,lte=100"`
	MaxReviewCandidates    int     `json:"max_review_candidates" validate:"gte=1,lte=20"`
	RoundingToleranceCents int64   `json:"rounding_tolerance_cents" validate:"gte=0"`
	BankFeeToleranceCents  int64   `json:"bank_fee_tolerance_cents" validate:"gte=0"`
	AmountPercent          float64 `json:"amount_percent" validate:"gte=0,lte=100"`
}

func (h *Handler) updateThresholds(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant header is required")
		return
	}

	var req thresholdsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, httpx.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	t := Thresholds(req)
	if err := h.repo.SaveThresholds(r.Context(), tenantID, t); err != nil {
		h.logger.Error("save thresholds", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if err := h.provider.ClearCache(r.Context(), tenantID); err != nil {
		h.logger.Warn("clear threshold cache", slog.Any("error", err))
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) clearThresholdCache(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant header is required")
		return
	}
	if err := h.provider.ClearCache(r.Context(), tenantID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
