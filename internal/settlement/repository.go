package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brightbooks/brightbooks/internal/billing"
	"github.com/brightbooks/brightbooks/internal/ledger"
	"github.com/brightbooks/brightbooks/internal/platform/db"
	"github.com/brightbooks/brightbooks/internal/shared"
)

// Repository provides PostgreSQL backed persistence for settlements.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx wraps fn in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{tx: tx})
	})
}

const paymentColumns = `id, tenant_id, transaction_id, invoice_id, amount_cents, paid_date, reference,
	match_type, matched_by, matched_by_id, confidence, reversed, reversed_at, reversal_reason, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID, &p.TenantID, &p.TransactionID, &p.InvoiceID, &p.AmountCents, &p.Date, &p.Reference,
		&p.MatchType, &p.MatchedBy, &p.MatchedByID, &p.Confidence, &p.Reversed, &p.ReversedAt,
		&p.ReversalReason, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPayment retrieves a payment scoped to the tenant.
func (r *Repository) GetPayment(ctx context.Context, tenantID, id uuid.UUID) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE tenant_id = $1 AND id = $2`
	return scanPayment(r.pool.QueryRow(ctx, query, tenantID, id))
}

// ListPayments returns payments newest first with pagination metadata.
func (r *Repository) ListPayments(ctx context.Context, tenantID uuid.UUID, page, perPage int) ([]Payment, shared.Pagination, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM payments WHERE tenant_id = $1`, tenantID).Scan(&total); err != nil {
		return nil, shared.Pagination{}, err
	}
	pg := shared.NewPagination(page, perPage, total)

	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE tenant_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, tenantID, pg.PerPage, pg.Offset())
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, shared.Pagination{}, err
		}
		out = append(out, *p)
	}
	return out, pg, rows.Err()
}

// --- Transactional store ---

type txStore struct {
	tx pgx.Tx
}

func (s *txStore) GetTransaction(ctx context.Context, tenantID, id uuid.UUID) (*ledger.Transaction, error) {
	query := `SELECT id, tenant_id, amount_cents, txn_date, reference, description, payee_name, is_credit, reversal_of, created_at, updated_at
		FROM bank_transactions WHERE tenant_id = $1 AND id = $2`
	var t ledger.Transaction
	err := s.tx.QueryRow(ctx, query, tenantID, id).Scan(
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

func (s *txStore) GetInvoiceForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*billing.Invoice, error) {
	query := `SELECT id, tenant_id, number, account_id, child_id, parent_name, child_name,
			total_cents, paid_cents, status, due_date, period_start, period_end, created_at, updated_at
		FROM invoices WHERE tenant_id = $1 AND id = $2 FOR UPDATE`
	var inv billing.Invoice
	err := s.tx.QueryRow(ctx, query, tenantID, id).Scan(
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

func (s *txStore) ActiveAllocatedCents(ctx context.Context, tenantID, transactionID uuid.UUID) (int64, error) {
	// Spillover credit consumed cents of the transaction too: an overpayment
	// caps the payment row at outstanding and parks the excess in
	// credit_balances, so both sums count toward what is already spent.
	var total int64
	err := s.tx.QueryRow(ctx,
		`SELECT
			COALESCE((SELECT SUM(amount_cents) FROM payments
				WHERE tenant_id = $1 AND transaction_id = $2 AND NOT reversed), 0)
		  + COALESCE((SELECT SUM(cb.amount_cents) FROM credit_balances cb
				JOIN payments p ON p.id = cb.source_payment_id
				WHERE p.tenant_id = $1 AND p.transaction_id = $2 AND NOT p.reversed), 0)`,
		tenantID, transactionID).Scan(&total)
	return total, err
}

func (s *txStore) CreatePayment(ctx context.Context, p Payment) (*Payment, error) {
	query := `INSERT INTO payments (
			id, tenant_id, transaction_id, invoice_id, amount_cents, paid_date, reference,
			match_type, matched_by, matched_by_id, confidence, reversed, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, FALSE, NOW(), NOW())
		RETURNING created_at, updated_at`
	err := s.tx.QueryRow(ctx, query,
		p.ID, p.TenantID, p.TransactionID, p.InvoiceID, p.AmountCents, p.Date, p.Reference,
		p.MatchType, p.MatchedBy, p.MatchedByID, p.Confidence,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		// uq_payments_active enforces one active settlement per
		// (transaction, invoice) pair.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, shared.BusinessRule("duplicate-settlement",
				"transaction %s already has an active payment on invoice %s", p.TransactionID, p.InvoiceID)
		}
		return nil, err
	}
	return &p, nil
}

func (s *txStore) UpdateInvoicePaid(ctx context.Context, tenantID, invoiceID uuid.UUID, paidCents int64, status billing.InvoiceStatus) error {
	tag, err := s.tx.Exec(ctx,
		`UPDATE invoices SET paid_cents = $3, status = $4, updated_at = NOW() WHERE tenant_id = $1 AND id = $2`,
		tenantID, invoiceID, paidCents, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (s *txStore) CreateCreditBalance(ctx context.Context, cb billing.CreditBalance) (*billing.CreditBalance, error) {
	err := s.tx.QueryRow(ctx, `INSERT INTO credit_balances (id, tenant_id, account_id, source_payment_id, amount_cents, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING created_at`,
		cb.ID, cb.TenantID, cb.AccountID, cb.SourcePaymentID, cb.AmountCents, cb.Reason,
	).Scan(&cb.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &cb, nil
}

func (s *txStore) GetPaymentForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE tenant_id = $1 AND id = $2 FOR UPDATE`
	return scanPayment(s.tx.QueryRow(ctx, query, tenantID, id))
}

func (s *txStore) MarkPaymentReversed(ctx context.Context, tenantID, id uuid.UUID, reason string, at time.Time) error {
	tag, err := s.tx.Exec(ctx,
		`UPDATE payments SET reversed = TRUE, reversed_at = $3, reversal_reason = $4, updated_at = NOW()
		 WHERE tenant_id = $1 AND id = $2 AND NOT reversed`,
		tenantID, id, at, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
