package ledger

import (
	"bytes"
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

type stubTransactionStore struct {
	transactions map[uuid.UUID]Transaction
	links        map[uuid.UUID]uuid.UUID
}

func newStubTransactionStore() *stubTransactionStore {
	return &stubTransactionStore{
		transactions: make(map[uuid.UUID]Transaction),
		links:        make(map[uuid.UUID]uuid.UUID),
	}
}

func (s *stubTransactionStore) Get(_ context.Context, tenantID, id uuid.UUID) (*Transaction, error) {
	tx, ok := s.transactions[id]
	if !ok || tx.TenantID != tenantID {
		return nil, shared.ErrNotFound
	}
	return &tx, nil
}

func (s *stubTransactionStore) SetReversalLink(_ context.Context, tenantID, id, reversesID uuid.UUID) error {
	tx, ok := s.transactions[id]
	if !ok || tx.TenantID != tenantID {
		return shared.ErrNotFound
	}
	s.links[id] = reversesID
	tx.ReversalOf = &reversesID
	s.transactions[id] = tx
	return nil
}

func seedTransaction(store *stubTransactionStore, tenantID uuid.UUID, amountCents int64, isCredit bool) Transaction {
	tx := Transaction{
		ID:          uuid.New(),
		TenantID:    tenantID,
		AmountCents: amountCents,
		Date:        time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC),
		Reference:   "INV 2026 001",
		IsCredit:    isCredit,
	}
	store.transactions[tx.ID] = tx
	return tx
}

func newLedgerRouter(store *stubTransactionStore) http.Handler {
	r := chi.NewRouter()
	NewHandler(slog.Default(), store).MountRoutes(r)
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

func TestHandlerGetTransaction(t *testing.T) {
	store := newStubTransactionStore()
	tenant := uuid.New()
	tx := seedTransaction(store, tenant, 50000, true)
	router := newLedgerRouter(store)

	rec := doJSON(t, router, tenant, http.MethodGet, fmt.Sprintf("/transactions/%s", tx.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, tx.ID, got.ID)
	assert.Equal(t, int64(50000), got.AmountCents)

	// Scoped to the tenant.
	rec = doJSON(t, router, uuid.New(), http.MethodGet, fmt.Sprintf("/transactions/%s", tx.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerLinkReversal(t *testing.T) {
	store := newStubTransactionStore()
	tenant := uuid.New()
	original := seedTransaction(store, tenant, 50000, true)
	reversal := seedTransaction(store, tenant, 50000, false)
	router := newLedgerRouter(store)

	rec := doJSON(t, router, tenant, http.MethodPost,
		fmt.Sprintf("/transactions/%s/reversal-link", reversal.ID),
		map[string]any{"reverses_transaction_id": original.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	var got Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.NotNil(t, got.ReversalOf)
	assert.Equal(t, original.ID, *got.ReversalOf)
	assert.Equal(t, original.ID, store.links[reversal.ID])
}

func TestHandlerLinkReversalSameDirectionRejected(t *testing.T) {
	store := newStubTransactionStore()
	tenant := uuid.New()
	original := seedTransaction(store, tenant, 50000, true)
	another := seedTransaction(store, tenant, 50000, true)
	router := newLedgerRouter(store)

	rec := doJSON(t, router, tenant, http.MethodPost,
		fmt.Sprintf("/transactions/%s/reversal-link", another.ID),
		map[string]any{"reverses_transaction_id": original.ID})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, store.links)
}

func TestHandlerLinkReversalSelfRejected(t *testing.T) {
	store := newStubTransactionStore()
	tenant := uuid.New()
	tx := seedTransaction(store, tenant, 50000, true)
	router := newLedgerRouter(store)

	rec := doJSON(t, router, tenant, http.MethodPost,
		fmt.Sprintf("/transactions/%s/reversal-link", tx.ID),
		map[string]any{"reverses_transaction_id": tx.ID})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandlerLinkReversalUnknownTargetIs404(t *testing.T) {
	store := newStubTransactionStore()
	tenant := uuid.New()
	reversal := seedTransaction(store, tenant, 50000, false)
	router := newLedgerRouter(store)

	rec := doJSON(t, router, tenant, http.MethodPost,
		fmt.Sprintf("/transactions/%s/reversal-link", reversal.ID),
		map[string]any{"reverses_transaction_id": uuid.New()})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, store.links)
}

func TestHandlerLinkReversalValidation(t *testing.T) {
	store := newStubTransactionStore()
	tenant := uuid.New()
	reversal := seedTransaction(store, tenant, 50000, false)
	router := newLedgerRouter(store)

	rec := doJSON(t, router, tenant, http.MethodPost,
		fmt.Sprintf("/transactions/%s/reversal-link", reversal.ID),
		map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
