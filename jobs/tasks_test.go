package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightbooks/brightbooks/internal/matching"
)

type stubBatcher struct {
	calls   []uuid.UUID
	perIDs  [][]uuid.UUID
	failFor map[uuid.UUID]error
}

func (s *stubBatcher) MatchBatch(_ context.Context, tenantID uuid.UUID, ids []uuid.UUID) (*matching.BatchResult, error) {
	s.calls = append(s.calls, tenantID)
	s.perIDs = append(s.perIDs, ids)
	if err, ok := s.failFor[tenantID]; ok {
		return nil, err
	}
	return &matching.BatchResult{Processed: 2, AutoApplied: 1}, nil
}

type stubTenants struct {
	tenants []uuid.UUID
	err     error
}

func (s *stubTenants) ListTenantsWithUnallocated(context.Context) ([]uuid.UUID, error) {
	return s.tenants, s.err
}

func TestMatchBatchHandler(t *testing.T) {
	tenant := uuid.New()
	txID := uuid.New()
	batcher := &stubBatcher{}

	task, err := NewMatchBatchTask(MatchBatchPayload{TenantID: tenant, TransactionIDs: []uuid.UUID{txID}})
	require.NoError(t, err)

	handler := NewMatchBatchHandler(nil, batcher)
	require.NoError(t, handler(context.Background(), task))
	require.Len(t, batcher.calls, 1)
	assert.Equal(t, tenant, batcher.calls[0])
	assert.Equal(t, []uuid.UUID{txID}, batcher.perIDs[0])
}

func TestMatchBatchHandlerRejectsBadPayload(t *testing.T) {
	handler := NewMatchBatchHandler(nil, &stubBatcher{})

	err := handler(context.Background(), asynq.NewTask(TaskTypeMatchBatch, []byte("not json")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	// A zero tenant is never retried either; retrying cannot fix it.
	task, buildErr := NewMatchBatchTask(MatchBatchPayload{})
	require.NoError(t, buildErr)
	err = handler(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestMatchAllHandlerSweepsEveryTenant(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	batcher := &stubBatcher{failFor: map[uuid.UUID]error{b: errors.New("db down")}}
	tenants := &stubTenants{tenants: []uuid.UUID{a, b, c}}

	handler := NewMatchAllHandler(nil, tenants, batcher)
	err := handler(context.Background(), NewMatchAllTask())

	// The failing tenant surfaces for the Asynq retry, but the sweep
	// still reaches the tenants after it.
	require.Error(t, err)
	assert.Equal(t, []uuid.UUID{a, b, c}, batcher.calls)
}
