package scoring_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/ai-essay-grader/internal/scoring"
)

func TestPerformanceLevel(t *testing.T) {
	cases := []struct {
		score int
		level string
		band  string
	}{
		{0, "Very Poor", "0-30"},
		{30, "Very Poor", "0-30"},
		{31, "Poor", "31-50"},
		{55, "Below Average", "51-60"},
		{64, "Average", "61-70"},
		{75, "Above Average", "71-78"},
		{84, "High", "79-84"},
		{85, "Exceptional", "85-90"},
		{90, "Exceptional", "85-90"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.level, scoring.PerformanceLevel(tc.score), "score %d", tc.score)
		assert.Equal(t, tc.band, scoring.BandLabel(tc.score), "score %d", tc.score)
	}
}

func TestDistributionWindowShares(t *testing.T) {
	w := scoring.NewDistributionWindow(10, 0.15)
	for _, s := range []int{20, 45, 55, 65, 65, 65, 75, 80, 88, 88} {
		w.Record(s)
	}
	shares := w.Shares()
	assert.InDelta(t, 0.10, shares[0], 1e-9)
	assert.InDelta(t, 0.30, shares[3], 1e-9)
	assert.InDelta(t, 0.20, shares[6], 1e-9)
}

func TestDistributionWindowEvictsOldest(t *testing.T) {
	w := scoring.NewDistributionWindow(3, 0.15)
	w.Record(10)
	w.Record(88)
	w.Record(88)
	w.Record(88)
	shares := w.Shares()
	assert.InDelta(t, 0, shares[0], 1e-9, "oldest score must be evicted")
	assert.InDelta(t, 1.0, shares[6], 1e-9)
}

func TestDistributionWindowDeviation(t *testing.T) {
	w := scoring.NewDistributionWindow(100, 0.15)
	// All scores in the top band: deviation is (1-0.01) for that band plus
	// the missing mass everywhere else, i.e. close to 2 minus twice the
	// expected top share.
	for i := 0; i < 50; i++ {
		w.Record(88)
	}
	assert.InDelta(t, 1.98, w.Deviation(), 1e-9)

	empty := scoring.NewDistributionWindow(100, 0.15)
	assert.InDelta(t, 1.0, empty.Deviation(), 1e-9)
}

func TestDistributionWindowReport(t *testing.T) {
	w := scoring.NewDistributionWindow(10, 0.15)
	w.Record(65)
	report := w.Report()
	assert.Contains(t, report, "61-70")
	assert.Contains(t, report, "expected")
}
