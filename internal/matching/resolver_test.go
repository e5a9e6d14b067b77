package matching

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightbooks/brightbooks/internal/ledger"
)

type stubDecider struct {
	decisions []*Decision
	errs      []error
	calls     int
}

func (s *stubDecider) Decide(_ context.Context, _ ledger.Transaction, _ []Candidate, _ uuid.UUID, _ int) (*Decision, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.decisions) {
		return s.decisions[i], nil
	}
	return nil, errors.New("no scripted response")
}

func fastRetry(attempts int) (RetryPolicy, *[]time.Duration) {
	slept := &[]time.Duration{}
	return RetryPolicy{
		MaxAttempts: attempts,
		BaseDelay:   500 * time.Millisecond,
		Sleep: func(_ context.Context, d time.Duration) error {
			*slept = append(*slept, d)
			return nil
		},
	}, slept
}

func ambiguousCandidates() (ledger.Transaction, []Candidate) {
	tx := ledger.Transaction{ID: uuid.New(), TenantID: uuid.New(), AmountCents: 50000, IsCredit: true}
	cands := []Candidate{
		{TransactionID: tx.ID, InvoiceID: uuid.New(), InvoiceNumber: "INV-001", Score: 85, Tier: TierHigh},
		{TransactionID: tx.ID, InvoiceID: uuid.New(), InvoiceNumber: "INV-002", Score: 82, Tier: TierHigh},
	}
	return tx, cands
}

func TestResolverNoDeciderConfigured(t *testing.T) {
	tx, cands := ambiguousCandidates()
	r := NewResolver(nil, nil, DefaultRetryPolicy(), nil)

	res := r.Resolve(context.Background(), tx, cands, DefaultThresholds())
	assert.Equal(t, StatusReviewRequired, res.Status)
	assert.Nil(t, res.Selected)
}

func TestResolverAppliesConfidentDecision(t *testing.T) {
	tx, cands := ambiguousCandidates()
	decider := &stubDecider{decisions: []*Decision{{
		Action:     ActionAutoApply,
		InvoiceID:  cands[1].InvoiceID,
		Confidence: 90,
		Reasoning:  "second invoice is the only open one for this child",
	}}}
	retry, _ := fastRetry(3)
	r := NewResolver(nil, decider, retry, nil)

	res := r.Resolve(context.Background(), tx, cands, DefaultThresholds())
	assert.Equal(t, StatusAutoApplied, res.Status)
	require.NotNil(t, res.Selected)
	assert.Equal(t, cands[1].InvoiceID, res.Selected.InvoiceID)
	assert.Equal(t, 1, decider.calls)
}

func TestResolverRetriesThenSucceeds(t *testing.T) {
	tx, cands := ambiguousCandidates()
	decider := &stubDecider{
		errs: []error{errors.New("timeout"), nil},
		decisions: []*Decision{nil, {
			Action:     ActionAutoApply,
			InvoiceID:  cands[0].InvoiceID,
			Confidence: 92,
		}},
	}
	retry, slept := fastRetry(3)
	r := NewResolver(nil, decider, retry, nil)

	res := r.Resolve(context.Background(), tx, cands, DefaultThresholds())
	assert.Equal(t, StatusAutoApplied, res.Status)
	assert.Equal(t, 2, decider.calls)
	require.Len(t, *slept, 1)
	assert.Equal(t, 500*time.Millisecond, (*slept)[0])
}

func TestResolverFallsBackAfterExhaustion(t *testing.T) {
	tx, cands := ambiguousCandidates()
	boom := errors.New("connection refused")
	decider := &stubDecider{errs: []error{boom, boom, boom}}
	retry, slept := fastRetry(3)
	r := NewResolver(nil, decider, retry, nil)

	res := r.Resolve(context.Background(), tx, cands, DefaultThresholds())
	assert.Equal(t, StatusReviewRequired, res.Status)
	assert.Nil(t, res.Selected)
	assert.Contains(t, res.Note, "unavailable")
	assert.Equal(t, 3, decider.calls)

	// Backoff doubles between attempts.
	require.Len(t, *slept, 2)
	assert.Equal(t, 500*time.Millisecond, (*slept)[0])
	assert.Equal(t, time.Second, (*slept)[1])
}

func TestResolverRejectsUnknownInvoice(t *testing.T) {
	tx, cands := ambiguousCandidates()
	decider := &stubDecider{decisions: []*Decision{{
		Action:     ActionAutoApply,
		InvoiceID:  uuid.New(),
		Confidence: 95,
	}}}
	retry, _ := fastRetry(1)
	r := NewResolver(nil, decider, retry, nil)

	res := r.Resolve(context.Background(), tx, cands, DefaultThresholds())
	assert.Equal(t, StatusReviewRequired, res.Status)
	assert.Nil(t, res.Selected)
	assert.Contains(t, res.Note, "unknown invoice")
}

func TestResolverLowConfidenceGoesToReview(t *testing.T) {
	tx, cands := ambiguousCandidates()

	// Below the medium bar: treated the same as no match.
	decider := &stubDecider{decisions: []*Decision{{
		Action:     ActionAutoApply,
		InvoiceID:  cands[0].InvoiceID,
		Confidence: 40,
	}}}
	retry, _ := fastRetry(1)
	r := NewResolver(nil, decider, retry, nil)
	res := r.Resolve(context.Background(), tx, cands, DefaultThresholds())
	assert.Equal(t, StatusReviewRequired, res.Status)
	assert.Nil(t, res.Selected)

	// Between medium and high: the pick survives as a review suggestion
	// but never auto-applies.
	decider = &stubDecider{decisions: []*Decision{{
		Action:     ActionAutoApply,
		InvoiceID:  cands[0].InvoiceID,
		Confidence: 70,
	}}}
	r = NewResolver(nil, decider, retry, nil)
	res = r.Resolve(context.Background(), tx, cands, DefaultThresholds())
	assert.Equal(t, StatusReviewRequired, res.Status)
	require.NotNil(t, res.Selected)
	assert.Equal(t, cands[0].InvoiceID, res.Selected.InvoiceID)
}

func TestResolverNoMatchDecision(t *testing.T) {
	tx, cands := ambiguousCandidates()
	decider := &stubDecider{decisions: []*Decision{{
		Action:     ActionNoMatch,
		Confidence: 99,
		Reasoning:  "none of the candidates belong to this payer",
	}}}
	retry, _ := fastRetry(1)
	r := NewResolver(nil, decider, retry, nil)

	res := r.Resolve(context.Background(), tx, cands, DefaultThresholds())
	assert.Equal(t, StatusReviewRequired, res.Status)
	assert.Nil(t, res.Selected)
	assert.Equal(t, "none of the candidates belong to this payer", res.Reasoning)
}
