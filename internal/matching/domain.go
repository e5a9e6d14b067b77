// Package matching scores unallocated bank transactions against outstanding
// invoices and decides whether each match can be applied automatically.
package matching

import (
	"github.com/google/uuid"
)

// ConfidenceTier buckets a numeric score.
type ConfidenceTier string

const (
	TierExact  ConfidenceTier = "EXACT"
	TierHigh   ConfidenceTier = "HIGH"
	TierMedium ConfidenceTier = "MEDIUM"
	TierLow    ConfidenceTier = "LOW"
)

// TierForScore derives the categorical tier from a 0-100 score.
func TierForScore(score int) ConfidenceTier {
	switch {
	case score >= 95:
		return TierExact
	case score >= 80:
		return TierHigh
	case score >= 60:
		return TierMedium
	default:
		return TierLow
	}
}

// Candidate is an ephemeral pairing of one transaction with one invoice.
// It is computed, passed through the pipeline and never persisted.
type Candidate struct {
	TransactionID    uuid.UUID
	InvoiceID        uuid.UUID
	InvoiceNumber    string
	Score            int
	Tier             ConfidenceTier
	Reasons          []string
	OutstandingCents int64
	TransactionCents int64
}

// MatchStatus is the terminal state for one transaction in a batch run.
type MatchStatus string

const (
	StatusAutoApplied    MatchStatus = "AUTO_APPLIED"
	StatusReviewRequired MatchStatus = "REVIEW_REQUIRED"
	StatusNoMatch        MatchStatus = "NO_MATCH"
)

// TransactionResult carries the outcome for a single transaction.
type TransactionResult struct {
	TransactionID uuid.UUID
	Status        MatchStatus
	Applied       *Candidate
	Candidates    []Candidate
	Note          string
}

// BatchResult aggregates a matching run.
type BatchResult struct {
	Processed      int
	AutoApplied    int
	ReviewRequired int
	NoMatch        int
	Results        []TransactionResult
}

func (b *BatchResult) add(res TransactionResult) {
	b.Processed++
	switch res.Status {
	case StatusAutoApplied:
		b.AutoApplied++
	case StatusReviewRequired:
		b.ReviewRequired++
	case StatusNoMatch:
		b.NoMatch++
	}
	b.Results = append(b.Results, res)
}
