package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightbooks/brightbooks/internal/shared"
)

type stubReader struct {
	invoices map[uuid.UUID]Invoice
	credits  map[uuid.UUID][]CreditBalance
}

func (s *stubReader) Get(_ context.Context, tenantID, id uuid.UUID) (*Invoice, error) {
	inv, ok := s.invoices[id]
	if !ok || inv.TenantID != tenantID {
		return nil, shared.ErrNotFound
	}
	return &inv, nil
}

func (s *stubReader) ListCreditBalances(_ context.Context, tenantID, accountID uuid.UUID) ([]CreditBalance, error) {
	var out []CreditBalance
	for _, cb := range s.credits[accountID] {
		if cb.TenantID == tenantID {
			out = append(out, cb)
		}
	}
	return out, nil
}

func newBillingRouter(reader *stubReader) http.Handler {
	r := chi.NewRouter()
	NewHandler(slog.Default(), reader).MountRoutes(r)
	return r
}

func doGet(handler http.Handler, tenantID uuid.UUID, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req = req.WithContext(shared.ContextWithTenant(req.Context(), tenantID))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandlerGetInvoice(t *testing.T) {
	tenant := uuid.New()
	inv := Invoice{
		ID:         uuid.New(),
		TenantID:   tenant,
		Number:     "INV-2026-001",
		AccountID:  uuid.New(),
		TotalCents: 50000,
		Status:     StatusDraft,
		DueDate:    time.Date(2026, time.March, 28, 0, 0, 0, 0, time.UTC),
	}
	router := newBillingRouter(&stubReader{invoices: map[uuid.UUID]Invoice{inv.ID: inv}})

	rec := doGet(router, tenant, fmt.Sprintf("/invoices/%s", inv.ID))
	require.Equal(t, http.StatusOK, rec.Code)

	var got Invoice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "INV-2026-001", got.Number)
	assert.Equal(t, int64(50000), got.TotalCents)

	rec = doGet(router, uuid.New(), fmt.Sprintf("/invoices/%s", inv.ID))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerGetInvoiceBadID(t *testing.T) {
	router := newBillingRouter(&stubReader{})
	rec := doGet(router, uuid.New(), "/invoices/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerListCredits(t *testing.T) {
	tenant := uuid.New()
	account := uuid.New()
	reader := &stubReader{credits: map[uuid.UUID][]CreditBalance{
		account: {
			{ID: uuid.New(), TenantID: tenant, AccountID: account, AmountCents: 10000, Reason: "overpayment on invoice INV-2026-001"},
			{ID: uuid.New(), TenantID: tenant, AccountID: account, AmountCents: 2500, Reason: "overpayment on invoice INV-2026-002"},
		},
	}}
	router := newBillingRouter(reader)

	rec := doGet(router, tenant, fmt.Sprintf("/accounts/%s/credits", account))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Credits    []CreditBalance `json:"credits"`
		TotalCents int64           `json:"total_cents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Credits, 2)
	assert.Equal(t, int64(12500), resp.TotalCents)

	// No credits for a different account.
	rec = doGet(router, tenant, fmt.Sprintf("/accounts/%s/credits", uuid.New()))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Credits)
	assert.Equal(t, int64(0), resp.TotalCents)
}

func TestHandlerCreditsMissingTenant(t *testing.T) {
	router := newBillingRouter(&stubReader{})
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/accounts/%s/credits", uuid.New()), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
