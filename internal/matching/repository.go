package matching

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brightbooks/brightbooks/internal/shared"
)

// Repository reads tenant matching configuration from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LoadThresholds returns the tenant's threshold overrides.
func (r *Repository) LoadThresholds(ctx context.Context, tenantID uuid.UUID) (*Thresholds, error) {
	query := `SELECT min_candidate_score, auto_apply_score, high_confidence, medium_confidence,
			max_review_candidates, rounding_tolerance_cents, bank_fee_tolerance_cents, amount_percent
		FROM match_thresholds WHERE tenant_id = $1`

	var t Thresholds
	err := r.pool.QueryRow(ctx, query, tenantID).Scan(
		&t.MinCandidateScore, &t.AutoApplyScore, &t.HighConfidence, &t.MediumConfidence,
		&t.MaxReviewCandidates, &t.RoundingToleranceCents, &t.BankFeeToleranceCents, &t.AmountPercent,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SaveThresholds upserts the tenant's overrides. Callers should clear the
// provider cache afterwards so the new values take effect immediately.
func (r *Repository) SaveThresholds(ctx context.Context, tenantID uuid.UUID, t Thresholds) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO match_thresholds (
			tenant_id, min_candidate_score, auto_apply_score, high_confidence, medium_confidence,
			max_review_candidates, rounding_tolerance_cents, bank_fee_tolerance_cents, amount_percent, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (tenant_id) DO UPDATE SET
			min_candidate_score = EXCLUDED.min_candidate_score,
			auto_apply_score = EXCLUDED.auto_apply_score,
			high_confidence = EXCLUDED.high_confidence,
			medium_confidence = EXCLUDED.medium_confidence,
			max_review_candidates = EXCLUDED.max_review_candidates,
			rounding_tolerance_cents = EXCLUDED.rounding_tolerance_cents,
			bank_fee_tolerance_cents = EXCLUDED.bank_fee_tolerance_cents,
			amount_percent = EXCLUDED.amount_percent,
			updated_at = NOW()`,
		tenantID, t.MinCandidateScore, t.AutoApplyScore, t.HighConfidence, t.MediumConfidence,
		t.MaxReviewCandidates, t.RoundingToleranceCents, t.BankFeeToleranceCents, t.AmountPercent,
	)
	return err
}
