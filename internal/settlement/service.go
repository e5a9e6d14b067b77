package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/brightbooks/brightbooks/internal/billing"
	"github.com/brightbooks/brightbooks/internal/ledger"
	"github.com/brightbooks/brightbooks/internal/observability"
	"github.com/brightbooks/brightbooks/internal/shared"
)

// TxStore is the transactional slice of persistence the engine needs. Every
// method runs inside the same atomic unit; the persistence layer serialises
// concurrent settlement attempts against the same rows.
type TxStore interface {
	GetTransaction(ctx context.Context, tenantID, id uuid.UUID) (*ledger.Transaction, error)
	GetInvoiceForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*billing.Invoice, error)
	ActiveAllocatedCents(ctx context.Context, tenantID, transactionID uuid.UUID) (int64, error)
	CreatePayment(ctx context.Context, p Payment) (*Payment, error)
	UpdateInvoicePaid(ctx context.Context, tenantID, invoiceID uuid.UUID, paidCents int64, status billing.InvoiceStatus) error
	CreateCreditBalance(ctx context.Context, cb billing.CreditBalance) (*billing.CreditBalance, error)
	GetPaymentForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*Payment, error)
	MarkPaymentReversed(ctx context.Context, tenantID, id uuid.UUID, reason string, at time.Time) error
}

// Store opens atomic units of work over the settlement tables.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
}

// Engine validates, classifies and commits allocations, and reverses them.
type Engine struct {
	logger  *slog.Logger
	store   Store
	audit   shared.AuditRecorder
	metrics *observability.Metrics
	now     func() time.Time
}

// NewEngine constructs the engine. Audit and metrics may be nil.
func NewEngine(logger *slog.Logger, store Store, audit shared.AuditRecorder, metrics *observability.Metrics) *Engine {
	return &Engine{logger: logger, store: store, audit: audit, metrics: metrics, now: time.Now}
}

// Allocate settles one transaction against one or more invoices atomically.
// Either every payment row and invoice update commits, or none do.
func (e *Engine) Allocate(ctx context.Context, req AllocationRequest) (*AllocationResult, error) {
	if len(req.Lines) == 0 {
		return nil, shared.BusinessRule("empty-allocation", "at least one invoice allocation is required")
	}
	var requested int64
	for _, line := range req.Lines {
		if line.AmountCents <= 0 {
			return nil, shared.BusinessRule("non-positive-amount", "allocation for invoice %s must be positive", line.InvoiceID)
		}
		requested += line.AmountCents
	}

	result := &AllocationResult{}
	err := e.store.WithTx(ctx, func(ctx context.Context, s TxStore) error {
		tx, err := s.GetTransaction(ctx, req.TenantID, req.TransactionID)
		if err != nil {
			return err
		}
		if !tx.IsCredit {
			return shared.BusinessRule("not-a-credit", "transaction %s is not a credit", tx.ID)
		}
		if requested > tx.AmountCents {
			return shared.BusinessRule("over-allocation",
				"requested %dc exceeds transaction amount %dc", requested, tx.AmountCents)
		}

		// Re-checked here, inside the atomic unit, even though the matcher
		// filtered settled transactions earlier: two concurrent allocations
		// must not both see the transaction as unallocated.
		allocated, err := s.ActiveAllocatedCents(ctx, req.TenantID, req.TransactionID)
		if err != nil {
			return err
		}
		if allocated >= tx.AmountCents {
			return shared.BusinessRule("already-allocated", "transaction %s is fully allocated", tx.ID)
		}
		if requested > tx.AmountCents-allocated {
			return shared.BusinessRule("over-allocation",
				"requested %dc exceeds remaining %dc on transaction %s", requested, tx.AmountCents-allocated, tx.ID)
		}

		var appliedTotal int64
		for _, line := range req.Lines {
			inv, err := s.GetInvoiceForUpdate(ctx, req.TenantID, line.InvoiceID)
			if err != nil {
				return err
			}
			if inv.Status == billing.StatusVoid {
				return shared.BusinessRule("invoice-void", "invoice %s is void", inv.Number)
			}
			outstanding := inv.OutstandingCents()
			if outstanding <= 0 {
				return shared.BusinessRule("invoice-paid", "invoice %s has nothing outstanding", inv.Number)
			}

			applied, matchType := classify(line.AmountCents, outstanding, req.Actor)
			payment := Payment{
				ID:            uuid.New(),
				TenantID:      req.TenantID,
				TransactionID: tx.ID,
				InvoiceID:     inv.ID,
				AmountCents:   applied,
				Date:          tx.Date,
				Reference:     firstNonEmpty(req.Reference, tx.Reference),
				MatchType:     matchType,
				MatchedBy:     req.Actor.Kind,
				MatchedByID:   req.Actor.ID,
				Confidence:    confidenceFor(req.Actor, matchType),
			}
			created, err := s.CreatePayment(ctx, payment)
			if err != nil {
				return err
			}

			newPaid := inv.PaidCents + applied
			if newPaid > inv.TotalCents {
				return shared.Consistency("invoice %s paid %dc would exceed total %dc", inv.Number, newPaid, inv.TotalCents)
			}
			newStatus := billing.StatusPartiallyPaid
			if newPaid == inv.TotalCents {
				newStatus = billing.StatusPaid
			}
			if err := s.UpdateInvoicePaid(ctx, req.TenantID, inv.ID, newPaid, newStatus); err != nil {
				return err
			}

			// Overpayment: the payment is capped at outstanding and the
			// excess becomes spillover credit for the parent account.
			if line.AmountCents > outstanding {
				credit, err := s.CreateCreditBalance(ctx, billing.CreditBalance{
					ID:              uuid.New(),
					TenantID:        req.TenantID,
					AccountID:       inv.AccountID,
					SourcePaymentID: created.ID,
					AmountCents:     line.AmountCents - outstanding,
					Reason:          fmt.Sprintf("overpayment on invoice %s", inv.Number),
				})
				if err != nil {
					return err
				}
				result.CreditBalances = append(result.CreditBalances, *credit)
			}

			appliedTotal += line.AmountCents
			inv.PaidCents = newPaid
			inv.Status = newStatus
			result.Payments = append(result.Payments, *created)
			result.InvoicesUpdated = append(result.InvoicesUpdated, *inv)
		}

		if allocated+appliedTotal > tx.AmountCents {
			return shared.Consistency("allocated %dc exceeds transaction amount %dc", allocated+appliedTotal, tx.AmountCents)
		}
		result.UnallocatedCents = tx.AmountCents - allocated - appliedTotal
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, p := range result.Payments {
		e.metrics.IncAllocation(string(p.MatchType), p.AmountCents)
		e.recordAudit(ctx, shared.AuditEntry{
			TenantID: req.TenantID,
			Entity:   "payment",
			EntityID: p.ID.String(),
			Action:   "allocation.committed",
			Actor:    req.Actor.ID,
			After: map[string]any{
				"transaction_id": p.TransactionID.String(),
				"invoice_id":     p.InvoiceID.String(),
				"amount_cents":   p.AmountCents,
				"match_type":     string(p.MatchType),
			},
			Summary: fmt.Sprintf("allocated %dc to invoice %s", p.AmountCents, p.InvoiceID),
		})
	}
	return result, nil
}

// Reverse undoes a prior allocation: the payment is flagged reversed and the
// invoice's paid total drops by the original amount. The payment row itself
// is never deleted or re-amounted.
func (e *Engine) Reverse(ctx context.Context, tenantID, paymentID uuid.UUID, reason string, actor Actor) (*Payment, error) {
	if reason == "" {
		return nil, shared.BusinessRule("missing-reason", "a reversal reason is required")
	}

	var reversed *Payment
	err := e.store.WithTx(ctx, func(ctx context.Context, s TxStore) error {
		p, err := s.GetPaymentForUpdate(ctx, tenantID, paymentID)
		if err != nil {
			return err
		}
		if p.Reversed {
			return shared.BusinessRule("already-reversed", "payment %s is already reversed", p.ID)
		}

		at := e.now().UTC()
		if err := s.MarkPaymentReversed(ctx, tenantID, p.ID, reason, at); err != nil {
			return err
		}

		inv, err := s.GetInvoiceForUpdate(ctx, tenantID, p.InvoiceID)
		if err != nil {
			return err
		}
		newPaid := inv.PaidCents - p.AmountCents
		if newPaid < 0 {
			return shared.Consistency("reversing payment %s would drive invoice %s paid below zero", p.ID, inv.Number)
		}
		newStatus := billing.StatusPartiallyPaid
		switch {
		case newPaid == 0:
			newStatus = billing.StatusDraft
		case newPaid == inv.TotalCents:
			newStatus = billing.StatusPaid
		}
		if err := s.UpdateInvoicePaid(ctx, tenantID, inv.ID, newPaid, newStatus); err != nil {
			return err
		}

		p.Reversed = true
		p.ReversedAt = &at
		p.ReversalReason = reason
		reversed = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.IncReversal()
	e.recordAudit(ctx, shared.AuditEntry{
		TenantID: tenantID,
		Entity:   "payment",
		EntityID: reversed.ID.String(),
		Action:   "allocation.reversed",
		Actor:    actor.ID,
		Before:   map[string]any{"reversed": false},
		After:    map[string]any{"reversed": true, "reason": reason},
		Summary:  fmt.Sprintf("reversed %dc on invoice %s", reversed.AmountCents, reversed.InvoiceID),
	})
	return reversed, nil
}

// classify caps the applied amount at outstanding and derives the match type.
// Partial amounts picked by a human are recorded as MANUAL.
func classify(amount, outstanding int64, actor Actor) (int64, MatchType) {
	switch {
	case amount == outstanding:
		return amount, MatchExact
	case amount < outstanding:
		if actor.Kind == ActorHuman {
			return amount, MatchManual
		}
		return amount, MatchPartial
	default:
		return outstanding, MatchOverpayment
	}
}

// confidenceFor mirrors how sure the platform is about a settlement: human
// confirmation is certain; system-applied exact slightly less; partial and
// overpayment carry residual uncertainty.
func confidenceFor(actor Actor, matchType MatchType) *float64 {
	var c float64
	switch {
	case actor.Kind == ActorHuman:
		c = 1.0
	case matchType == MatchExact:
		c = 0.95
	default:
		c = 0.9
	}
	return &c
}

// recordAudit is fire-and-log: audit failures never roll back a settlement.
func (e *Engine) recordAudit(ctx context.Context, entry shared.AuditEntry) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Record(ctx, entry); err != nil && e.logger != nil {
		e.logger.Warn("audit record failed",
			slog.String("entity_id", entry.EntityID),
			slog.String("action", entry.Action),
			slog.Any("error", err))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
