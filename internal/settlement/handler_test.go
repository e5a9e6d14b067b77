package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightbooks/brightbooks/internal/billing"
	"github.com/brightbooks/brightbooks/internal/shared"
)

func newHandlerFixture(t *testing.T, store *memStore) http.Handler {
	t.Helper()
	engine := NewEngine(slog.Default(), store, nil, nil)
	h := NewHandler(slog.Default(), engine, nil)
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func doJSON(t *testing.T, handler http.Handler, tenantID uuid.UUID, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(shared.ContextWithTenant(req.Context(), tenantID))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandlerAllocate(t *testing.T) {
	store := newMemStore()
	tenant := uuid.New()
	tx := seedCredit(store, tenant, 50000)
	inv := seedInvoice(store, tenant, "INV-2026-001", 50000)
	handler := newHandlerFixture(t, store)

	rec := doJSON(t, handler, tenant, http.MethodPost, "/allocations", map[string]any{
		"transaction_id": tx.ID,
		"allocations":    []map[string]any{{"invoice_id": inv.ID, "amount_cents": 50000}},
		"actor_id":       "admin-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var result AllocationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Payments, 1)
	assert.Equal(t, MatchExact, result.Payments[0].MatchType)
	assert.Equal(t, billing.StatusPaid, store.invoices[inv.ID].Status)
}

func TestHandlerAllocateBusinessRuleIs422(t *testing.T) {
	store := newMemStore()
	tenant := uuid.New()
	tx := seedCredit(store, tenant, 40000)
	inv := seedInvoice(store, tenant, "INV-2026-001", 50000)
	handler := newHandlerFixture(t, store)

	rec := doJSON(t, handler, tenant, http.MethodPost, "/allocations", map[string]any{
		"transaction_id": tx.ID,
		"allocations":    []map[string]any{{"invoice_id": inv.ID, "amount_cents": 50000}},
		"actor_id":       "admin-1",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var problem struct {
		Title  string `json:"title"`
		Status int    `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "Business Rule Violation", problem.Title)
	assert.Equal(t, http.StatusUnprocessableEntity, problem.Status)
}

func TestHandlerAllocateValidation(t *testing.T) {
	handler := newHandlerFixture(t, newMemStore())
	tenant := uuid.New()

	rec := doJSON(t, handler, tenant, http.MethodPost, "/allocations", map[string]any{
		"transaction_id": uuid.New(),
		"allocations":    []map[string]any{},
		"actor_id":       "admin-1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerAllocateUnknownTransactionIs404(t *testing.T) {
	handler := newHandlerFixture(t, newMemStore())
	tenant := uuid.New()

	rec := doJSON(t, handler, tenant, http.MethodPost, "/allocations", map[string]any{
		"transaction_id": uuid.New(),
		"allocations":    []map[string]any{{"invoice_id": uuid.New(), "amount_cents": 100}},
		"actor_id":       "admin-1",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerReverse(t *testing.T) {
	store := newMemStore()
	tenant := uuid.New()
	tx := seedCredit(store, tenant, 50000)
	inv := seedInvoice(store, tenant, "INV-2026-001", 50000)
	handler := newHandlerFixture(t, store)

	rec := doJSON(t, handler, tenant, http.MethodPost, "/allocations", map[string]any{
		"transaction_id": tx.ID,
		"allocations":    []map[string]any{{"invoice_id": inv.ID, "amount_cents": 50000}},
		"actor_id":       "admin-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var result AllocationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	paymentID := result.Payments[0].ID

	rec = doJSON(t, handler, tenant, http.MethodPost, fmt.Sprintf("/payments/%s/reverse", paymentID), map[string]any{
		"reason":   "captured against the wrong family",
		"actor_id": "admin-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var payment Payment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payment))
	assert.True(t, payment.Reversed)
	assert.Equal(t, billing.StatusDraft, store.invoices[inv.ID].Status)
}

func TestHandlerReverseRequiresReason(t *testing.T) {
	handler := newHandlerFixture(t, newMemStore())

	rec := doJSON(t, handler, uuid.New(), http.MethodPost, fmt.Sprintf("/payments/%s/reverse", uuid.New()), map[string]any{
		"actor_id": "admin-1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type stubPaymentReader struct {
	payments map[uuid.UUID]Payment
}

func (s *stubPaymentReader) GetPayment(_ context.Context, tenantID, id uuid.UUID) (*Payment, error) {
	p, ok := s.payments[id]
	if !ok || p.TenantID != tenantID {
		return nil, shared.ErrNotFound
	}
	return &p, nil
}

func (s *stubPaymentReader) ListPayments(_ context.Context, tenantID uuid.UUID, page, perPage int) ([]Payment, shared.Pagination, error) {
	var out []Payment
	for _, p := range s.payments {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	return out, shared.NewPagination(page, perPage, len(out)), nil
}

func TestHandlerGetPayment(t *testing.T) {
	tenant := uuid.New()
	payment := Payment{
		ID:          uuid.New(),
		TenantID:    tenant,
		AmountCents: 50000,
		MatchType:   MatchExact,
	}
	reader := &stubPaymentReader{payments: map[uuid.UUID]Payment{payment.ID: payment}}
	h := NewHandler(slog.Default(), NewEngine(slog.Default(), newMemStore(), nil, nil), reader)
	router := chi.NewRouter()
	h.MountRoutes(router)

	rec := doJSON(t, router, tenant, http.MethodGet, fmt.Sprintf("/payments/%s", payment.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got Payment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, payment.ID, got.ID)
	assert.Equal(t, int64(50000), got.AmountCents)

	// Another tenant's payment is invisible.
	rec = doJSON(t, router, uuid.New(), http.MethodGet, fmt.Sprintf("/payments/%s", payment.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerMissingTenant(t *testing.T) {
	handler := newHandlerFixture(t, newMemStore())

	req := httptest.NewRequest(http.MethodPost, "/allocations", bytes.NewBufferString("{}"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
