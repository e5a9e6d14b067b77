package ledger

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/brightbooks/brightbooks/internal/platform/httpx"
	"github.com/brightbooks/brightbooks/internal/shared"
)

// TransactionStore is the transaction persistence the handler serves.
type TransactionStore interface {
	Get(ctx context.Context, tenantID, id uuid.UUID) (*Transaction, error)
	SetReversalLink(ctx context.Context, tenantID, id, reversesID uuid.UUID) error
}

// Handler exposes bank-transaction read and reversal-link endpoints.
type Handler struct {
	logger   *slog.Logger
	repo     TransactionStore
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, repo TransactionStore) *Handler {
	return &Handler{logger: logger, repo: repo, validate: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/transactions/{transactionID}", h.getTransaction)
	r.Post("/transactions/{transactionID}/reversal-link", h.linkReversal)
}

func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
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

	tx, err := h.repo.Get(r.Context(), tenantID, transactionID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tx)
}

type linkReversalRequest struct {
	ReversesTransactionID uuid.UUID `json:"reverses_transaction_id" validate:"required"`
}

// linkReversal marks a bank entry as the bank-side reversal of an earlier
// one. The reversing entry must run in the opposite direction; this is the
// only mutation the core performs on a transaction row.
func (h *Handler) linkReversal(w http.ResponseWriter, r *http.Request) {
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

	var req linkReversalRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, httpx.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	tx, err := h.repo.Get(r.Context(), tenantID, transactionID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	target, err := h.repo.Get(r.Context(), tenantID, req.ReversesTransactionID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if tx.ID == target.ID {
		httpx.RespondError(w, shared.BusinessRule("self-reversal", "transaction %s cannot reverse itself", tx.ID))
		return
	}
	if tx.IsCredit == target.IsCredit {
		httpx.RespondError(w, shared.BusinessRule("reversal-direction",
			"transaction %s must run opposite to the entry it reverses", tx.ID))
		return
	}

	if err := h.repo.SetReversalLink(r.Context(), tenantID, tx.ID, target.ID); err != nil {
		h.logger.Warn("set reversal link", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	tx.ReversalOf = &target.ID
	httpx.JSON(w, http.StatusOK, tx)
}
