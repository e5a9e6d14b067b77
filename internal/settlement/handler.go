package settlement

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/brightbooks/brightbooks/internal/platform/httpx"
	"github.com/brightbooks/brightbooks/internal/shared"
)

// PaymentReader is the read side of payment persistence the handler serves.
type PaymentReader interface {
	GetPayment(ctx context.Context, tenantID, id uuid.UUID) (*Payment, error)
	ListPayments(ctx context.Context, tenantID uuid.UUID, page, perPage int) ([]Payment, shared.Pagination, error)
}

// Handler exposes allocation and reversal endpoints.
type Handler struct {
	logger   *slog.Logger
	engine   *Engine
	repo     PaymentReader
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, engine *Engine, repo PaymentReader) *Handler {
	return &Handler{logger: logger, engine: engine, repo: repo, validate: validator.New()}
}

// MountRoutes registers settlement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/allocations", h.allocate)
	r.Post("/payments/{paymentID}/reverse", h.reverse)
	r.Get("/payments", h.listPayments)
	r.Get("/payments/{paymentID}", h.getPayment)
}

type allocationLineRequest struct {
	InvoiceID   uuid.UUID `json:"invoice_id" validate:"required"`
	AmountCents int64     `json:"amount_cents" validate:"required,gt=0"`
}

type allocateRequest struct {
	TransactionID uuid.UUID               `json:"transaction_id" validate:"required"`
	Lines         []allocationLineRequest `json:"allocations" validate:"required,min=1,dive"`
	ActorID       string                  `json:"actor_id" validate:"required"`
	Reference     string                  `json:"reference"`
}

func (h *Handler) allocate(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant header is required")
		return
	}

	var req allocateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, httpx.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	lines := make([]AllocationLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, AllocationLine{InvoiceID: l.InvoiceID, AmountCents: l.AmountCents})
	}

	result, err := h.engine.Allocate(r.Context(), AllocationRequest{
		TenantID:      tenantID,
		TransactionID: req.TransactionID,
		Lines:         lines,
		Actor:         Actor{Kind: ActorHuman, ID: req.ActorID},
		Reference:     req.Reference,
	})
	if err != nil {
		h.logger.Warn("allocate", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

type reverseRequest struct {
	Reason  string `json:"reason" validate:"required"`
	ActorID string `json:"actor_id" validate:"required"`
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant header is required")
		return
	}
	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentID"))
	if err != nil {
		httpx.RespondError(w, httpx.ErrBadRequest)
		return
	}

	var req reverseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, httpx.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	payment, err := h.engine.Reverse(r.Context(), tenantID, paymentID, req.Reason, Actor{Kind: ActorHuman, ID: req.ActorID})
	if err != nil {
		h.logger.Warn("reverse payment", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, payment)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant header is required")
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))

	payments, pagination, err := h.repo.ListPayments(r.Context(), tenantID, page, perPage)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"payments":   payments,
		"pagination": pagination,
	})
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant header is required")
		return
	}
	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentID"))
	if err != nil {
		httpx.RespondError(w, httpx.ErrBadRequest)
		return
	}

	payment, err := h.repo.GetPayment(r.Context(), tenantID, paymentID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, payment)
}
