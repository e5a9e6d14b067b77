package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"INV-2024-001", "inv2024001"},
		{"  Thandi  Ngcobo ", "thandingcobo"},
		{"Zoë Müller", "zoemuller"},
		{"R1,250.00", "r125000"},
		{"***", ""},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Normalize(tc.in), "input %q", tc.in)
	}
}

func TestEditSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, EditSimilarity("ngcobo", "ngcobo"))
	assert.Equal(t, 0.0, EditSimilarity("", "ngcobo"))
	assert.Equal(t, 0.0, EditSimilarity("ngcobo", ""))

	// One deletion in a six rune word.
	sim := EditSimilarity("ngcobo", "ngobo")
	assert.InDelta(t, 1.0-1.0/6.0, sim, 1e-9)

	// Symmetric.
	assert.Equal(t, EditSimilarity("thandi", "thandie"), EditSimilarity("thandie", "thandi"))

	// Completely different strings score near zero.
	assert.Less(t, EditSimilarity("abcdef", "zyxwvu"), 0.2)
}

func TestCompareAmountsEqual(t *testing.T) {
	cmp := CompareAmounts(50000, 50000, RoundingProfile())
	require.True(t, cmp.Matches)
	assert.Equal(t, int64(0), cmp.DeviationCents)
	assert.Equal(t, 1.0, cmp.ConfidenceAdjustment)
}

func TestCompareAmountsRoundingBand(t *testing.T) {
	cmp := CompareAmounts(50001, 50000, RoundingProfile())
	require.True(t, cmp.Matches)
	assert.Equal(t, int64(1), cmp.DeviationCents)

	cmp = CompareAmounts(50002, 50000, RoundingProfile())
	assert.False(t, cmp.Matches)
}

func TestCompareAmountsLinearAdjustment(t *testing.T) {
	profile := BankFeeProfile(500)

	// Halfway into the band the adjustment is 0.5.
	cmp := CompareAmounts(49750, 50000, profile)
	require.True(t, cmp.Matches)
	assert.InDelta(t, 0.5, cmp.ConfidenceAdjustment, 1e-9)

	// At the band edge it reaches zero but still matches.
	cmp = CompareAmounts(49500, 50000, profile)
	require.True(t, cmp.Matches)
	assert.Equal(t, 0.0, cmp.ConfidenceAdjustment)

	// One cent past the edge no longer matches.
	cmp = CompareAmounts(49499, 50000, profile)
	assert.False(t, cmp.Matches)
}

func TestCompareAmountsPercentBand(t *testing.T) {
	cmp := CompareAmounts(101000, 100000, PercentProfile(1))
	require.True(t, cmp.Matches)

	cmp = CompareAmounts(102000, 100000, PercentProfile(1))
	assert.False(t, cmp.Matches)
}

func TestCompareAmountsUseHigherBand(t *testing.T) {
	profile := ToleranceProfile{Name: "wide", AbsoluteCents: 100, Percent: 1, UseHigher: true}

	// 1% of R1000.00 is 1000c, wider than the 100c absolute band.
	cmp := CompareAmounts(100800, 100000, profile)
	assert.True(t, cmp.Matches)

	// On small amounts the absolute band is the wider one.
	cmp = CompareAmounts(5080, 5000, profile)
	assert.True(t, cmp.Matches)
	cmp = CompareAmounts(5180, 5000, profile)
	assert.False(t, cmp.Matches)
}

func TestCompareAmountsNegativeReference(t *testing.T) {
	// Percent bands are computed off magnitudes, not signed values.
	cmp := CompareAmounts(-100500, -100000, PercentProfile(1))
	assert.True(t, cmp.Matches)
}
