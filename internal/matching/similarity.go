package matching

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize lowercases s, strips diacritics and removes every non-alphanumeric
// rune. The result is locale-free and stable across runs.
func Normalize(s string) string {
	stripped, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		stripped = s
	}
	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range strings.ToLower(stripped) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// EditSimilarity returns a symmetric similarity in [0,1] between a and b,
// 1 meaning identical. The underlying distance is classic Levenshtein,
// normalized by the longer string's length.
func EditSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	return 1 - float64(prev[len(rb)])/float64(longest)
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// ToleranceProfile selects how two amounts are considered close enough.
// Amounts are minor units. A profile may carry an absolute band, a percentage
// band, or both; UseHigher picks the wider of the two when both are set,
// otherwise the stricter band applies.
type ToleranceProfile struct {
	Name          string
	AbsoluteCents int64
	Percent       float64
	UseHigher     bool
}

// Well-known profiles. Rounding covers cent-level truncation between systems,
// BankFee covers flat EFT charges deducted before deposit.
func RoundingProfile() ToleranceProfile {
	return ToleranceProfile{Name: "rounding", AbsoluteCents: 1}
}

func BankFeeProfile(bandCents int64) ToleranceProfile {
	return ToleranceProfile{Name: "bank-fee", AbsoluteCents: bandCents}
}

func PercentProfile(percent float64) ToleranceProfile {
	return ToleranceProfile{Name: "percent", Percent: percent}
}

// AmountComparison reports the outcome of a tolerant amount comparison.
type AmountComparison struct {
	Matches              bool
	DeviationCents       int64
	ConfidenceAdjustment float64
	Description          string
}

// CompareAmounts compares transaction amount a against expected amount b
// under the given profile. ConfidenceAdjustment decays linearly from 1 (equal)
// to 0 (at the edge of the band) so scorers can scale points by closeness.
func CompareAmounts(a, b int64, profile ToleranceProfile) AmountComparison {
	deviation := a - b
	if deviation < 0 {
		deviation = -deviation
	}

	band := profile.band(a, b)
	if deviation == 0 {
		return AmountComparison{
			Matches:              true,
			ConfidenceAdjustment: 1,
			Description:          "amounts equal",
		}
	}
	if band <= 0 || deviation > band {
		return AmountComparison{
			DeviationCents: deviation,
			Description:    fmt.Sprintf("deviation %dc outside %s band", deviation, profile.Name),
		}
	}
	return AmountComparison{
		Matches:              true,
		DeviationCents:       deviation,
		ConfidenceAdjustment: 1 - float64(deviation)/float64(band),
		Description:          fmt.Sprintf("deviation %dc within %s band of %dc", deviation, profile.Name, band),
	}
}

func (p ToleranceProfile) band(a, b int64) int64 {
	abs := p.AbsoluteCents
	var pct int64
	if p.Percent > 0 {
		absA, absB := a, b
		if absA < 0 {
			absA = -absA
		}
		if absB < 0 {
			absB = -absB
		}
		ref := absB
		if absA > ref {
			ref = absA
		}
		pct = int64(p.Percent / 100 * float64(ref))
	}

	switch {
	case abs > 0 && pct > 0 && p.UseHigher:
		if pct > abs {
			return pct
		}
		return abs
	case abs > 0 && pct > 0:
		if pct < abs {
			return pct
		}
		return abs
	case pct > 0:
		return pct
	default:
		return abs
	}
}
