package matching

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/brightbooks/brightbooks/internal/ledger"
	"github.com/brightbooks/brightbooks/internal/observability"
	"github.com/brightbooks/brightbooks/internal/shared"
)

// DecisionAction is the verdict returned by the external decision-maker.
type DecisionAction string

const (
	ActionAutoApply DecisionAction = "auto_apply"
	ActionReview    DecisionAction = "review"
	ActionNoMatch   DecisionAction = "no_match"
)

// Decision is the outcome of an external tie-break call.
type Decision struct {
	Action       DecisionAction
	InvoiceID    uuid.UUID
	Confidence   int
	Reasoning    string
	Alternatives []uuid.UUID
}

// DecisionMaker breaks ties between multiple high-confidence candidates.
// Implementations live outside this core; calls may block on the network.
type DecisionMaker interface {
	Decide(ctx context.Context, tx ledger.Transaction, candidates []Candidate, tenantID uuid.UUID, highConfidence int) (*Decision, error)
}

// RetryPolicy bounds calls to the decision-maker. Delay doubles per attempt
// starting from BaseDelay. Sleep is injectable so tests can use a fake clock.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Sleep       func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns the production policy: 3 attempts, 500ms base.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) wait(ctx context.Context, attempt int) error {
	delay := p.BaseDelay << (attempt - 1)
	if p.Sleep != nil {
		return p.Sleep(ctx, delay)
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Resolution is what the resolver hands back to the matcher. The resolver
// never commits allocations itself; it only picks winners, so no transaction
// or lock is held while the external call waits.
type Resolution struct {
	Status    MatchStatus
	Selected  *Candidate
	Reasoning string
	Note      string
}

// Resolver escalates ambiguous matches to the external decision-maker.
type Resolver struct {
	logger  *slog.Logger
	decider DecisionMaker
	retry   RetryPolicy
	metrics *observability.Metrics
}

// NewResolver constructs a resolver. Metrics may be nil.
func NewResolver(logger *slog.Logger, decider DecisionMaker, retry RetryPolicy, metrics *observability.Metrics) *Resolver {
	return &Resolver{logger: logger, decider: decider, retry: retry, metrics: metrics}
}

// Resolve asks the decision-maker to break the tie between candidates that
// all cleared the auto-apply bar. Transient failures are retried with
// exponential backoff; exhaustion downgrades to manual review, never a hard
// error.
func (r *Resolver) Resolve(ctx context.Context, tx ledger.Transaction, candidates []Candidate, th Thresholds) Resolution {
	if r.decider == nil {
		return Resolution{
			Status: StatusReviewRequired,
			Note:   "no decision-maker configured",
		}
	}

	var decision *Decision
	var lastErr error
	for attempt := 1; attempt <= r.retry.attempts(); attempt++ {
		d, err := r.decider.Decide(ctx, tx, candidates, tx.TenantID, th.HighConfidence)
		if err == nil {
			decision = d
			break
		}
		lastErr = &shared.ExternalServiceError{Service: "decision-maker", Err: err}
		r.metrics.IncResolverRetry()
		if r.logger != nil {
			r.logger.Warn("decision-maker call failed",
				slog.String("transaction_id", tx.ID.String()),
				slog.Int("attempt", attempt),
				slog.Any("error", err))
		}
		if attempt < r.retry.attempts() {
			if waitErr := r.retry.wait(ctx, attempt); waitErr != nil {
				lastErr = waitErr
				break
			}
		}
	}

	if decision == nil {
		r.metrics.IncResolverFallback()
		if r.logger != nil {
			r.logger.Error("decision-maker unreachable, falling back to review",
				slog.String("transaction_id", tx.ID.String()),
				slog.Any("error", lastErr))
		}
		return Resolution{
			Status: StatusReviewRequired,
			Note:   fmt.Sprintf("decision-maker unavailable: %v", lastErr),
		}
	}

	if decision.Action == ActionNoMatch || decision.Confidence < th.MediumConfidence {
		return Resolution{
			Status:    StatusReviewRequired,
			Reasoning: decision.Reasoning,
			Note:      "decision-maker found no confident match",
		}
	}

	selected := findCandidate(candidates, decision.InvoiceID)
	if selected == nil {
		// A decision pointing outside the candidate set is invalid.
		return Resolution{
			Status:    StatusReviewRequired,
			Reasoning: decision.Reasoning,
			Note:      fmt.Sprintf("decision referenced unknown invoice %s", decision.InvoiceID),
		}
	}

	if decision.Action == ActionAutoApply && decision.Confidence >= th.HighConfidence {
		return Resolution{
			Status:    StatusAutoApplied,
			Selected:  selected,
			Reasoning: decision.Reasoning,
		}
	}

	return Resolution{
		Status:    StatusReviewRequired,
		Selected:  selected,
		Reasoning: decision.Reasoning,
		Note:      "decision confidence below auto-apply bar",
	}
}

func findCandidate(candidates []Candidate, invoiceID uuid.UUID) *Candidate {
	for i := range candidates {
		if candidates[i].InvoiceID == invoiceID {
			return &candidates[i]
		}
	}
	return nil
}
