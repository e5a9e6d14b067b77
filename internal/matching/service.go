package matching

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/brightbooks/brightbooks/internal/billing"
	"github.com/brightbooks/brightbooks/internal/ledger"
	"github.com/brightbooks/brightbooks/internal/observability"
	"github.com/brightbooks/brightbooks/internal/settlement"
	"github.com/brightbooks/brightbooks/internal/shared"
)

// TransactionSource lists unallocated credit transactions for a tenant.
// When ids is non-empty the listing is restricted to that subset.
type TransactionSource interface {
	ListUnallocated(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]ledger.Transaction, error)
}

// InvoiceSource lists outstanding invoices ordered by due date ascending,
// which biases tie-breaks toward the longest-outstanding invoice.
type InvoiceSource interface {
	ListOutstanding(ctx context.Context, tenantID uuid.UUID) ([]billing.Invoice, error)
}

// Allocator commits an accepted match. Satisfied by *settlement.Engine.
type Allocator interface {
	Allocate(ctx context.Context, req settlement.AllocationRequest) (*settlement.AllocationResult, error)
}

// Service runs the per-transaction matching state machine over a batch.
type Service struct {
	logger       *slog.Logger
	transactions TransactionSource
	invoices     InvoiceSource
	allocator    Allocator
	resolver     *Resolver
	thresholds   ThresholdProvider
	audit        shared.AuditRecorder
	metrics      *observability.Metrics
}

// NewService constructs the matcher. Resolver, audit and metrics may be nil;
// without a resolver every ambiguous match goes to review.
func NewService(
	logger *slog.Logger,
	transactions TransactionSource,
	invoices InvoiceSource,
	allocator Allocator,
	resolver *Resolver,
	thresholds ThresholdProvider,
	audit shared.AuditRecorder,
	metrics *observability.Metrics,
) *Service {
	if thresholds == nil {
		thresholds = StaticThresholds{T: DefaultThresholds()}
	}
	return &Service{
		logger:       logger,
		transactions: transactions,
		invoices:     invoices,
		allocator:    allocator,
		resolver:     resolver,
		thresholds:   thresholds,
		audit:        audit,
		metrics:      metrics,
	}
}

// MatchBatch processes every unallocated credit transaction for the tenant,
// or only the given ids when the caller restricts the run. A failure on one
// transaction never aborts the batch; it is captured on that item's result.
func (s *Service) MatchBatch(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (*BatchResult, error) {
	th, err := s.thresholds.Thresholds(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("matching: load thresholds: %w", err)
	}

	txs, err := s.transactions.ListUnallocated(ctx, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("matching: list transactions: %w", err)
	}
	invoices, err := s.invoices.ListOutstanding(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("matching: list invoices: %w", err)
	}

	scorer := NewScorer(th)
	batch := &BatchResult{}
	working := invoices

	for i := range txs {
		tx := txs[i]
		if !tx.IsCredit {
			// The source excludes debits; guard anyway so a misbehaving
			// caller cannot settle money paid out.
			continue
		}
		res := s.processOne(ctx, tx, working, scorer, th)
		if res.Status == StatusAutoApplied && res.Applied != nil {
			working = consumeOutstanding(working, res.Applied.InvoiceID, res.Applied.TransactionCents)
		}
		s.metrics.IncMatchOutcome(string(res.Status))
		batch.add(res)
	}

	if s.logger != nil {
		s.logger.Info("match batch complete",
			slog.String("tenant_id", tenantID.String()),
			slog.Int("processed", batch.Processed),
			slog.Int("auto_applied", batch.AutoApplied),
			slog.Int("review_required", batch.ReviewRequired),
			slog.Int("no_match", batch.NoMatch))
	}
	return batch, nil
}

// Suggestions returns the scored candidates for one unallocated transaction,
// best first, for the manual review screen.
func (s *Service) Suggestions(ctx context.Context, tenantID, transactionID uuid.UUID) ([]Candidate, error) {
	th, err := s.thresholds.Thresholds(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	txs, err := s.transactions.ListUnallocated(ctx, tenantID, []uuid.UUID{transactionID})
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, shared.ErrNotFound
	}
	invoices, err := s.invoices.ListOutstanding(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	scorer := NewScorer(th)
	candidates := scoreAll(scorer, &txs[0], invoices, th.MinCandidateScore)
	return candidates, nil
}

// processOne walks a single transaction through the state machine. Any error
// along the way is captured on the result rather than propagated.
func (s *Service) processOne(ctx context.Context, tx ledger.Transaction, invoices []billing.Invoice, scorer *Scorer, th Thresholds) TransactionResult {
	// Exact fast path: one unambiguous reference-and-amount hit settles
	// without running the full scorer.
	exact := scorer.FindExactMatches(&tx, invoices)
	if len(exact) == 1 {
		return s.apply(ctx, tx, exact[0], exact)
	}

	candidates := scoreAll(scorer, &tx, invoices, th.MinCandidateScore)
	if len(candidates) == 0 {
		return TransactionResult{
			TransactionID: tx.ID,
			Status:        StatusNoMatch,
			Note:          "no invoice scored above the inclusion threshold",
		}
	}

	var high []Candidate
	for _, c := range candidates {
		if c.Score >= th.AutoApplyScore {
			high = append(high, c)
		}
	}

	switch {
	case len(high) == 1:
		return s.apply(ctx, tx, high[0], candidates)
	case len(high) > 1:
		return s.resolveAmbiguous(ctx, tx, high, candidates, th)
	default:
		return TransactionResult{
			TransactionID: tx.ID,
			Status:        StatusReviewRequired,
			Candidates:    topN(candidates, th.MaxReviewCandidates),
			Note:          "no candidate cleared the auto-apply threshold",
		}
	}
}

func (s *Service) resolveAmbiguous(ctx context.Context, tx ledger.Transaction, high, all []Candidate, th Thresholds) TransactionResult {
	if s.resolver == nil {
		return TransactionResult{
			TransactionID: tx.ID,
			Status:        StatusReviewRequired,
			Candidates:    topN(all, th.MaxReviewCandidates),
			Note:          "multiple candidates cleared the auto-apply threshold",
		}
	}

	resolution := s.resolver.Resolve(ctx, tx, high, th)
	if resolution.Status == StatusAutoApplied && resolution.Selected != nil {
		res := s.apply(ctx, tx, *resolution.Selected, all)
		res.Note = resolution.Reasoning
		return res
	}
	note := resolution.Note
	if resolution.Reasoning != "" {
		note = fmt.Sprintf("%s: %s", note, resolution.Reasoning)
	}
	return TransactionResult{
		TransactionID: tx.ID,
		Status:        StatusReviewRequired,
		Candidates:    topN(all, th.MaxReviewCandidates),
		Note:          note,
	}
}

// apply commits the chosen candidate through the allocation engine. The
// engine re-checks settlement state inside its own transaction, so a race
// with a concurrent run surfaces here as a business-rule error and the
// transaction falls back to review.
func (s *Service) apply(ctx context.Context, tx ledger.Transaction, chosen Candidate, all []Candidate) TransactionResult {
	_, err := s.allocator.Allocate(ctx, settlement.AllocationRequest{
		TenantID:      tx.TenantID,
		TransactionID: tx.ID,
		Lines:         []settlement.AllocationLine{{InvoiceID: chosen.InvoiceID, AmountCents: tx.AmountCents}},
		Actor:         settlement.Actor{Kind: settlement.ActorSystem, ID: "auto-matcher"},
	})
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("auto-apply failed",
				slog.String("transaction_id", tx.ID.String()),
				slog.String("invoice_id", chosen.InvoiceID.String()),
				slog.Any("error", err))
		}
		return TransactionResult{
			TransactionID: tx.ID,
			Status:        StatusReviewRequired,
			Candidates:    all,
			Note:          fmt.Sprintf("auto-apply failed: %v", err),
		}
	}

	if s.audit != nil {
		entry := shared.AuditEntry{
			TenantID: tx.TenantID,
			Entity:   "bank_transaction",
			EntityID: tx.ID.String(),
			Action:   "match.applied",
			Actor:    "auto-matcher",
			After: map[string]any{
				"invoice_id": chosen.InvoiceID.String(),
				"score":      chosen.Score,
				"tier":       string(chosen.Tier),
			},
			Summary: fmt.Sprintf("matched to invoice %s at score %d", chosen.InvoiceNumber, chosen.Score),
		}
		if err := s.audit.Record(ctx, entry); err != nil && s.logger != nil {
			s.logger.Warn("audit record failed", slog.Any("error", err))
		}
	}

	applied := chosen
	return TransactionResult{
		TransactionID: tx.ID,
		Status:        StatusAutoApplied,
		Applied:       &applied,
	}
}

func scoreAll(scorer *Scorer, tx *ledger.Transaction, invoices []billing.Invoice, minScore int) []Candidate {
	var out []Candidate
	for i := range invoices {
		c := scorer.Score(tx, &invoices[i])
		if c.Score >= minScore {
			out = append(out, c)
		}
	}
	sortCandidates(out)
	return out
}

func topN(cands []Candidate, n int) []Candidate {
	if n <= 0 || len(cands) <= n {
		return cands
	}
	return cands[:n]
}

// consumeOutstanding reflects an applied allocation on the in-memory invoice
// pool so later transactions in the batch do not match an invoice that was
// just settled.
func consumeOutstanding(invoices []billing.Invoice, invoiceID uuid.UUID, amountCents int64) []billing.Invoice {
	out := invoices[:0]
	for _, inv := range invoices {
		if inv.ID == invoiceID {
			applied := amountCents
			if outstanding := inv.OutstandingCents(); applied > outstanding {
				applied = outstanding
			}
			inv.PaidCents += applied
			if inv.OutstandingCents() <= 0 {
				continue
			}
			inv.Status = billing.StatusPartiallyPaid
		}
		out = append(out, inv)
	}
	return out
}
