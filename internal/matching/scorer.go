package matching

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/brightbooks/brightbooks/internal/billing"
	"github.com/brightbooks/brightbooks/internal/ledger"
)

// Scorer rates a (transaction, invoice) pair with a 0-100 confidence score.
// Scoring is deterministic: identical inputs always produce identical scores
// and reasons.
type Scorer struct {
	th Thresholds
}

// NewScorer builds a scorer with the given thresholds.
func NewScorer(th Thresholds) *Scorer {
	return &Scorer{th: th}
}

// Component caps. Reference and amount dominate because they are the
// strongest signals on a bank statement line.
const (
	maxReferenceScore = 40
	maxAmountScore    = 40
	maxNameScore      = 20
	maxDateScore      = 20
)

// Score rates one pair and returns the candidate with its contributing reasons.
func (s *Scorer) Score(tx *ledger.Transaction, inv *billing.Invoice) Candidate {
	var score int
	var reasons []string

	refScore, refReason := scoreReference(tx.Reference, inv.Number)
	if refScore > 0 {
		score += refScore
		reasons = append(reasons, refReason)
	}

	amtScore, amtReason := s.scoreAmount(tx.AmountCents, inv.OutstandingCents())
	if amtScore > 0 {
		score += amtScore
		reasons = append(reasons, amtReason)
	}

	nameScore, nameReason := scoreName(tx, inv)
	if nameScore > 0 {
		score += nameScore
		reasons = append(reasons, nameReason)
	}

	dateScore, dateReason := scoreDate(tx.Date, inv)
	if dateScore > 0 {
		score += dateScore
		reasons = append(reasons, dateReason)
	}

	if score > 100 {
		score = 100
	}

	return Candidate{
		TransactionID:    tx.ID,
		InvoiceID:        inv.ID,
		InvoiceNumber:    inv.Number,
		Score:            score,
		Tier:             TierForScore(score),
		Reasons:          reasons,
		OutstandingCents: inv.OutstandingCents(),
		TransactionCents: tx.AmountCents,
	}
}

// FindExactMatches is the cheap fast path: reference equality plus amount
// within the default rounding tolerance. It lets the matcher settle the
// unambiguous single-candidate case without running the full scorer.
func (s *Scorer) FindExactMatches(tx *ledger.Transaction, invoices []billing.Invoice) []Candidate {
	normRef := Normalize(tx.Reference)
	if normRef == "" {
		return nil
	}

	var out []Candidate
	for i := range invoices {
		inv := &invoices[i]
		if Normalize(inv.Number) != normRef {
			continue
		}
		cmp := CompareAmounts(tx.AmountCents, inv.OutstandingCents(), ToleranceProfile{
			Name:          "rounding",
			AbsoluteCents: s.th.RoundingToleranceCents,
		})
		if !cmp.Matches {
			continue
		}
		score := 98
		reasons := []string{"reference matches invoice number exactly", cmp.Description}
		if cmp.DeviationCents == 0 {
			score = 100
		}
		out = append(out, Candidate{
			TransactionID:    tx.ID,
			InvoiceID:        inv.ID,
			InvoiceNumber:    inv.Number,
			Score:            score,
			Tier:             TierForScore(score),
			Reasons:          reasons,
			OutstandingCents: inv.OutstandingCents(),
			TransactionCents: tx.AmountCents,
		})
	}
	return out
}

// --- Reference component (0-40) ---

func scoreReference(reference, invoiceNumber string) (int, string) {
	ref := Normalize(reference)
	num := Normalize(invoiceNumber)
	if ref == "" || num == "" {
		return 0, ""
	}
	switch {
	case ref == num:
		return 40, "reference matches invoice number exactly"
	case strings.Contains(ref, num):
		return 30, "reference contains invoice number"
	case len(ref) >= 4 && len(num) >= 4 && ref[len(ref)-4:] == num[len(num)-4:]:
		return 15, "reference tail matches invoice number tail"
	default:
		return 0, ""
	}
}

// --- Amount component (0-40) ---

// scoreAmount compares the transaction amount against the invoice outstanding.
// When both the bank-fee band and the 1%/1-unit band apply, the bank-fee path
// wins because its scaled score is never lower.
func (s *Scorer) scoreAmount(amount, outstanding int64) (int, string) {
	if amount == outstanding {
		return 40, "amount matches outstanding exactly"
	}

	if s.th.BankFeeToleranceCents > 0 {
		cmp := CompareAmounts(amount, outstanding, BankFeeProfile(s.th.BankFeeToleranceCents))
		if cmp.Matches {
			return 35 + int(math.Round(3*cmp.ConfidenceAdjustment)), cmp.Description
		}
	}

	onePct := ToleranceProfile{Name: "1% or 1 unit", AbsoluteCents: 100, Percent: s.th.AmountPercent, UseHigher: true}
	if cmp := CompareAmounts(amount, outstanding, onePct); cmp.Matches {
		return 35, cmp.Description
	}
	if cmp := CompareAmounts(amount, outstanding, PercentProfile(5)); cmp.Matches {
		return 25, cmp.Description
	}
	if cmp := CompareAmounts(amount, outstanding, PercentProfile(10)); cmp.Matches {
		return 15, cmp.Description
	}
	if amount > 0 && amount < outstanding {
		return 10, "amount below outstanding, plausible partial payment"
	}
	return 0, ""
}

// --- Name component (0-20) ---

var (
	digitRuns = regexp.MustCompile(`\d+`)
	// Statement boilerplate the banks prepend to the payer-supplied text.
	boilerplate = regexp.MustCompile(`(?i)\b(absa|fnb|nedbank|capitec|standard bank|eft|acb credit|immediate trf|internet|transfer|payment|deposit|pos|ref)\b`)
)

func cleanStatementText(s string) string {
	s = boilerplate.ReplaceAllString(s, " ")
	s = digitRuns.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

func scoreName(tx *ledger.Transaction, inv *billing.Invoice) (int, string) {
	sources := []string{cleanStatementText(tx.PayeeName), cleanStatementText(tx.Description)}
	targets := []string{inv.ParentName, inv.ChildName}

	best := 0
	bestReason := ""
	for _, src := range sources {
		if Normalize(src) == "" {
			continue
		}
		for _, tgt := range targets {
			if Normalize(tgt) == "" {
				continue
			}
			pts, reason := nameSimilarityScore(src, tgt)
			if pts > best {
				best, bestReason = pts, reason
			}
		}
	}
	return best, bestReason
}

func nameSimilarityScore(text, name string) (int, string) {
	if Normalize(text) == Normalize(name) {
		return 20, fmt.Sprintf("payer text matches %q exactly", name)
	}

	// Full first+last presence is as strong as exact equality.
	parts := strings.Fields(strings.ToLower(name))
	if len(parts) >= 2 {
		lower := strings.ToLower(text)
		if strings.Contains(lower, parts[0]) && strings.Contains(lower, parts[len(parts)-1]) {
			return 20, fmt.Sprintf("payer text contains first and last name of %q", name)
		}
	}

	sim := EditSimilarity(Normalize(text), Normalize(name))
	switch {
	case sim > 0.8:
		return 15 + int(math.Round(3*(sim-0.8)/0.2)), fmt.Sprintf("payer text closely resembles %q", name)
	case sim > 0.6:
		return 10 + int(math.Round(5*(sim-0.6)/0.2)), fmt.Sprintf("payer text resembles %q", name)
	case sim > 0.4:
		return 5, fmt.Sprintf("payer text loosely resembles %q", name)
	default:
		return 0, ""
	}
}

// --- Date component (0-20) ---

func scoreDate(date time.Time, inv *billing.Invoice) (int, string) {
	if !inv.PeriodStart.IsZero() && !inv.PeriodEnd.IsZero() &&
		!date.Before(inv.PeriodStart) && !date.After(inv.PeriodEnd) {
		return 20, "transaction dated inside billing period"
	}
	if daysApart(date, inv.DueDate) <= 7 {
		return 15, "transaction within a week of due date"
	}
	if !inv.PeriodStart.IsZero() {
		switch d := daysApart(date, inv.PeriodStart); {
		case d <= 30:
			return 10, "transaction within 30 days of billing period"
		case d <= 60:
			return 5, "transaction within 60 days of billing period"
		}
	}
	return 0, ""
}

func daysApart(a, b time.Time) int {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return int(d.Hours() / 24)
}

// sortCandidates orders by score descending; ties break toward the oldest due
// invoice, which callers guarantee by supplying invoices due-date ascending.
func sortCandidates(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].Score > cands[j].Score
	})
}
