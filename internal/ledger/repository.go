package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brightbooks/brightbooks/internal/shared"
)

// Repository provides PostgreSQL backed access to bank transactions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const transactionColumns = `id, tenant_id, amount_cents, txn_date, reference, description, payee_name, is_credit, reversal_of, created_at, updated_at`

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var t Transaction
	err := row.Scan(
		&t.ID, &t.TenantID, &t.AmountCents, &t.Date, &t.Reference, &t.Description,
		&t.PayeeName, &t.IsCredit, &t.ReversalOf, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Get retrieves a transaction scoped to the tenant.
func (r *Repository) Get(ctx context.Context, tenantID, id uuid.UUID) (*Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM bank_transactions WHERE tenant_id = $1 AND id = $2`, transactionColumns)
	return scanTransaction(r.pool.QueryRow(ctx, query, tenantID, id))
}

// ListUnallocated returns credit transactions with no active settlement.
// Transactions linked only to reversed payments count as unallocated again.
// When ids is non-empty the listing is restricted to that subset.
func (r *Repository) ListUnallocated(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]Transaction, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, `
		SELECT %s FROM bank_transactions t
		WHERE t.tenant_id = $1
		  AND t.is_credit
		  AND NOT EXISTS (
			SELECT 1 FROM payments p
			WHERE p.transaction_id = t.id AND NOT p.reversed
		  )`, qualify(transactionColumns, "t"))

	args := []any{tenantID}
	if len(ids) > 0 {
		sb.WriteString(" AND t.id = ANY($2)")
		args = append(args, ids)
	}
	sb.WriteString(" ORDER BY t.txn_date, t.id")

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// ListTenantsWithUnallocated returns the tenants that currently have at
// least one unallocated credit transaction. Used by the nightly sweep.
func (r *Repository) ListTenantsWithUnallocated(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT t.tenant_id FROM bank_transactions t
		WHERE t.is_credit
		  AND NOT EXISTS (
			SELECT 1 FROM payments p
			WHERE p.transaction_id = t.id AND NOT p.reversed
		  )
		ORDER BY t.tenant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SetReversalLink points a transaction at the bank entry it reverses.
// This is the only mutation the core performs on a transaction row.
func (r *Repository) SetReversalLink(ctx context.Context, tenantID, id, reversesID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE bank_transactions SET reversal_of = $3, updated_at = NOW() WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, reversesID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func qualify(columns, alias string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}
