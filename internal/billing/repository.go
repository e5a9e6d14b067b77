package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brightbooks/brightbooks/internal/shared"
)

// Repository provides PostgreSQL backed access to invoices and credit balances.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const invoiceColumns = `id, tenant_id, number, account_id, child_id, parent_name, child_name,
	total_cents, paid_cents, status, due_date, period_start, period_end, created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(
		&inv.ID, &inv.TenantID, &inv.Number, &inv.AccountID, &inv.ChildID,
		&inv.ParentName, &inv.ChildName, &inv.TotalCents, &inv.PaidCents,
		&inv.Status, &inv.DueDate, &inv.PeriodStart, &inv.PeriodEnd,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// Get retrieves an invoice scoped to the tenant.
func (r *Repository) Get(ctx context.Context, tenantID, id uuid.UUID) (*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE tenant_id = $1 AND id = $2`
	return scanInvoice(r.pool.QueryRow(ctx, query, tenantID, id))
}

// ListOutstanding returns unpaid, non-void invoices ordered oldest due date
// first so that matching favours the longest-outstanding invoice on ties.
func (r *Repository) ListOutstanding(ctx context.Context, tenantID uuid.UUID) ([]Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices
		WHERE tenant_id = $1 AND status NOT IN ('PAID', 'VOID')
		ORDER BY due_date ASC, id`

	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

// ListCreditBalances returns credit balances for an account, newest first.
func (r *Repository) ListCreditBalances(ctx context.Context, tenantID, accountID uuid.UUID) ([]CreditBalance, error) {
	query := `SELECT id, tenant_id, account_id, source_payment_id, amount_cents, reason, created_at
		FROM credit_balances
		WHERE tenant_id = $1 AND account_id = $2
		ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, tenantID, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CreditBalance
	for rows.Next() {
		var cb CreditBalance
		if err := rows.Scan(&cb.ID, &cb.TenantID, &cb.AccountID, &cb.SourcePaymentID, &cb.AmountCents, &cb.Reason, &cb.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, cb)
	}
	return out, rows.Err()
}
