package billing

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/brightbooks/brightbooks/internal/platform/httpx"
	"github.com/brightbooks/brightbooks/internal/shared"
)

// Reader is the invoice and credit read surface the handler serves.
type Reader interface {
	Get(ctx context.Context, tenantID, id uuid.UUID) (*Invoice, error)
	ListCreditBalances(ctx context.Context, tenantID, accountID uuid.UUID) ([]CreditBalance, error)
}

// Handler exposes invoice and credit-balance read endpoints for the review
// screens that sit on top of match suggestions.
type Handler struct {
	logger *slog.Logger
	repo   Reader
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, repo Reader) *Handler {
	return &Handler{logger: logger, repo: repo}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/invoices/{invoiceID}", h.getInvoice)
	r.Get("/accounts/{accountID}/credits", h.listCredits)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant header is required")
		return
	}
	invoiceID, err := uuid.Parse(chi.URLParam(r, "invoiceID"))
	if err != nil {
		httpx.RespondError(w, httpx.ErrBadRequest)
		return
	}

	inv, err := h.repo.Get(r.Context(), tenantID, invoiceID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) listCredits(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant header is required")
		return
	}
	accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		httpx.RespondError(w, httpx.ErrBadRequest)
		return
	}

	credits, err := h.repo.ListCreditBalances(r.Context(), tenantID, accountID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var total int64
	for _, cb := range credits {
		total += cb.AmountCents
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"credits":     credits,
		"total_cents": total,
	})
}
