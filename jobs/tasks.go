// Package jobs wires background reconciliation work onto Asynq.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/brightbooks/brightbooks/internal/matching"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeMatchBatch runs payment matching for one tenant.
	TaskTypeMatchBatch = "recon:match_batch"
	// TaskTypeMatchAll runs payment matching for every tenant with
	// unallocated transactions. Registered on the nightly cron.
	TaskTypeMatchAll = "recon:match_all"
)

// MatchBatchPayload describes a matching run. An empty TransactionIDs slice
// means the whole unallocated pool.
type MatchBatchPayload struct {
	TenantID       uuid.UUID   `json:"tenant_id"`
	TransactionIDs []uuid.UUID `json:"transaction_ids,omitempty"`
}

// NewMatchBatchTask constructs an Asynq task.
func NewMatchBatchTask(payload MatchBatchPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeMatchBatch, data), nil
}

// NewMatchAllTask constructs the task enqueued by the nightly cron.
func NewMatchAllTask() *asynq.Task {
	return asynq.NewTask(TaskTypeMatchAll, nil)
}

// Batcher runs a matching batch. Satisfied by *matching.Service.
type Batcher interface {
	MatchBatch(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (*matching.BatchResult, error)
}

// TenantSource lists tenants that currently have unallocated credit
// transactions. Satisfied by *ledger.Repository.
type TenantSource interface {
	ListTenantsWithUnallocated(ctx context.Context) ([]uuid.UUID, error)
}

// NewMatchBatchHandler builds the Asynq handler for TaskTypeMatchBatch.
func NewMatchBatchHandler(logger *slog.Logger, batcher Batcher) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload MatchBatchPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.TenantID == uuid.Nil {
			return asynq.SkipRetry
		}

		result, err := batcher.MatchBatch(ctx, payload.TenantID, payload.TransactionIDs)
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("scheduled match batch finished",
				slog.String("tenant_id", payload.TenantID.String()),
				slog.Int("processed", result.Processed),
				slog.Int("auto_applied", result.AutoApplied))
		}
		return nil
	}
}

// NewMatchAllHandler fans the nightly run out to one batch per tenant. A
// failing tenant does not stop the sweep; the task is retried by Asynq so
// the failed tenants get another pass.
func NewMatchAllHandler(logger *slog.Logger, tenants TenantSource, batcher Batcher) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		ids, err := tenants.ListTenantsWithUnallocated(ctx)
		if err != nil {
			return err
		}

		var lastErr error
		for _, tenantID := range ids {
			result, err := batcher.MatchBatch(ctx, tenantID, nil)
			if err != nil {
				lastErr = err
				if logger != nil {
					logger.Error("nightly match batch failed",
						slog.String("tenant_id", tenantID.String()),
						slog.Any("error", err))
				}
				continue
			}
			if logger != nil {
				logger.Info("nightly match batch finished",
					slog.String("tenant_id", tenantID.String()),
					slog.Int("processed", result.Processed),
					slog.Int("auto_applied", result.AutoApplied))
			}
		}
		return lastErr
	}
}
