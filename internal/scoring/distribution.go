// Package scoring implements the deterministic score calibration pipeline:
// relevance capping, word-count penalties, raw-to-scaled mapping,
// highlighted-error enhancement, and the population distribution guardrail.
package scoring

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/fairyhunter13/ai-essay-grader/internal/adapter/observability"
)

// Band boundaries for the score distribution, matching the reporting bands
// used by the exam this rubric models.
var bandUpper = [...]int{30, 50, 60, 70, 78, 84, 90}

var bandLabel = [...]string{"0-30", "31-50", "51-60", "61-70", "71-78", "79-84", "85-90"}

// expectedShare is the realistic population share per band: most mass in the
// middle, the top band at ~1%.
var expectedShare = [...]float64{0.05, 0.15, 0.20, 0.35, 0.17, 0.07, 0.01}

// DistributionWindow is a bounded sliding window of recent overall scores
// used to detect population-level skew. It warns; it never rewrites scores,
// because silent post-hoc rescoring would break auditability.
type DistributionWindow struct {
	mu            sync.Mutex
	size          int
	warnThreshold float64
	scores        []int
}

// NewDistributionWindow creates a window holding the last size scores.
// warnThreshold is the maximum tolerated share of scores in the two top
// bands (79+) before a skew warning fires.
func NewDistributionWindow(size int, warnThreshold float64) *DistributionWindow {
	if size <= 0 {
		size = 100
	}
	if warnThreshold <= 0 {
		warnThreshold = 0.15
	}
	return &DistributionWindow{size: size, warnThreshold: warnThreshold, scores: make([]int, 0, size)}
}

// Record pushes a score into the window and emits a skew warning when the
// recent population concentrates in the top bands.
func (w *DistributionWindow) Record(score int) {
	w.mu.Lock()
	w.scores = append(w.scores, score)
	if len(w.scores) > w.size {
		w.scores = w.scores[1:]
	}
	shares := w.sharesLocked()
	n := len(w.scores)
	w.mu.Unlock()

	topShare := shares[5] + shares[6]
	if n >= 20 && topShare > w.warnThreshold {
		slog.Warn("score distribution skewed toward top bands",
			slog.Float64("top_band_share", topShare),
			slog.Float64("threshold", w.warnThreshold),
			slog.Int("window", n))
		observability.DistributionWarningsTotal.Inc()
	}
}

// Shares returns the fraction of window scores falling in each band.
func (w *DistributionWindow) Shares() []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sharesLocked()
}

func (w *DistributionWindow) sharesLocked() []float64 {
	shares := make([]float64, len(bandUpper))
	if len(w.scores) == 0 {
		return shares
	}
	for _, s := range w.scores {
		shares[bandIndex(s)]++
	}
	for i := range shares {
		shares[i] /= float64(len(w.scores))
	}
	return shares
}

// Deviation returns the total absolute deviation of the window from the
// expected population shares.
func (w *DistributionWindow) Deviation() float64 {
	shares := w.Shares()
	var d float64
	for i, s := range shares {
		diff := s - expectedShare[i]
		if diff < 0 {
			diff = -diff
		}
		d += diff
	}
	return d
}

// Report renders a per-band comparison of actual versus expected shares.
func (w *DistributionWindow) Report() string {
	shares := w.Shares()
	out := "band   actual expected\n"
	for i, lbl := range bandLabel {
		out += fmt.Sprintf("%-6s %5.1f%% %7.1f%%\n", lbl, shares[i]*100, expectedShare[i]*100)
	}
	return out
}

// Named performance levels per band, worst to best.
var bandPerformance = [...]string{"Very Poor", "Poor", "Below Average", "Average", "Above Average", "High", "Exceptional"}

// PerformanceLevel names the band a scaled overall score falls in.
func PerformanceLevel(score int) string {
	return bandPerformance[bandIndex(score)]
}

// BandLabel returns the score range label for a scaled overall score.
func BandLabel(score int) string {
	return bandLabel[bandIndex(score)]
}

func bandIndex(score int) int {
	for i, up := range bandUpper {
		if score <= up {
			return i
		}
	}
	return len(bandUpper) - 1
}
