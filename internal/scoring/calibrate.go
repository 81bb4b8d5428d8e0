package scoring

import (
	"log/slog"
	"math"
	"time"

	"github.com/fairyhunter13/ai-essay-grader/internal/adapter/observability"
	"github.com/fairyhunter13/ai-essay-grader/internal/domain"
)

// Thresholds holds the tunable calibration knobs. Values come from config so
// operators can tighten relevance handling without a code change.
type Thresholds struct {
	// Relevance bands, on the model's 0-100 relevance score.
	RelevanceFullCredit int // at or above: no capping
	RelevancePartial    int // at or above: content capped at 2
	RelevanceMinimal    int // at or above: content capped at 1; below: content 0

	// Hard caps applied to the scaled overall score.
	OffTopicOverallCap     int // relevance below RelevanceMinimal
	PartialTopicOverallCap int // relevance in [RelevanceMinimal, RelevancePartial)

	// Word-count band; essays outside it lose one form point.
	WordCountMin int
	WordCountMax int
}

// Calibrator turns a model analysis into a final scored result. It clamps
// every rubric criterion to its range, applies topic-relevance capping and
// the word-count penalty, scales the raw total to /90, enforces overall
// caps, and records the score in the distribution window.
type Calibrator struct {
	thresholds Thresholds
	window     *DistributionWindow
}

func NewCalibrator(t Thresholds, window *DistributionWindow) *Calibrator {
	return &Calibrator{thresholds: t, window: window}
}

// Calibrate produces the final result for a successfully parsed analysis.
// The model's numbers are treated as untrusted input: every criterion is
// clamped before any arithmetic.
func (c *Calibrator) Calibrate(job domain.EssayJob, analysis domain.ModelAnalysis, modelID string) domain.ScoringResult {
	rubric := clampRubric(analysis.Rubric)
	rel := clampInt(analysis.TopicRelevance.RelevanceScore, 0, 100)

	switch {
	case rel >= c.thresholds.RelevanceFullCredit:
		// full credit, no cap
	case rel >= c.thresholds.RelevancePartial:
		rubric.Content = minInt(rubric.Content, 2)
	case rel >= c.thresholds.RelevanceMinimal:
		rubric.Content = minInt(rubric.Content, 1)
	default:
		rubric.Content = 0
	}

	if job.WordCount < c.thresholds.WordCountMin || job.WordCount > c.thresholds.WordCountMax {
		rubric.Form = maxInt(rubric.Form-1, 0)
	}

	overall := ScaleRawScore(rubric.RawTotal())

	switch {
	case rel < c.thresholds.RelevanceMinimal:
		overall = minInt(overall, c.thresholds.OffTopicOverallCap)
	case rel < c.thresholds.RelevancePartial:
		overall = minInt(overall, c.thresholds.PartialTopicOverallCap)
	}

	relevance := analysis.TopicRelevance
	relevance.RelevanceScore = rel

	result := domain.ScoringResult{
		JobID:             job.ID,
		Rubric:            rubric,
		OverallScore:      overall,
		TopicRelevance:    relevance,
		Feedback:          analysis.Feedback,
		Suggestions:       analysis.Suggestions,
		HighlightedErrors: analysis.HighlightedErrors,
		ModelID:           modelID,
		CreatedAt:         time.Now().UTC(),
	}
	if analysis.Status == domain.AnalysisFailed {
		result.ErrorStatus = domain.ErrorStatusAnalysisFailed
		result.FailureReason = analysis.FailureReason
	}

	if c.window != nil {
		c.window.Record(overall)
	}
	observability.ObserveOverallScore(overall)

	slog.Debug("calibrated essay score",
		slog.String("job_id", job.ID),
		slog.Int("raw_total", rubric.RawTotal()),
		slog.Int("overall", overall),
		slog.Int("relevance", rel))

	return result
}

// FallbackResult builds the zero-score result persisted when the analysis
// pipeline fails entirely. Scores are all zero rather than guessed so a
// failed analysis can never inflate a grade.
func FallbackResult(job domain.EssayJob, reason, modelID string) domain.ScoringResult {
	return domain.ScoringResult{
		JobID:        job.ID,
		Rubric:       domain.RubricScores{},
		OverallScore: 0,
		TopicRelevance: domain.TopicRelevance{
			IsOnTopic:      false,
			RelevanceScore: 0,
			Explanation:    "Automated analysis was unavailable for this submission.",
		},
		Feedback: domain.Feedback{
			Summary: "We could not analyze this essay automatically. The submission has been recorded; please retry or request a manual review.",
		},
		ErrorStatus:   domain.ErrorStatusAnalysisFailed,
		FailureReason: reason,
		ModelID:       modelID,
		CreatedAt:     time.Now().UTC(),
	}
}

// ScaleRawScore maps a raw rubric total (/14) onto the published /90 scale
// using round-half-up, so raw 10 maps to 64 and a perfect 14 to 90.
func ScaleRawScore(raw int) int {
	raw = clampInt(raw, 0, domain.RubricMaxTotal)
	return int(math.Round(float64(raw) / float64(domain.RubricMaxTotal) * float64(domain.OverallScoreMax)))
}

func clampRubric(r domain.RubricScores) domain.RubricScores {
	return domain.RubricScores{
		Content:              clampInt(r.Content, 0, domain.MaxContent),
		Form:                 clampInt(r.Form, 0, domain.MaxForm),
		Grammar:              clampInt(r.Grammar, 0, domain.MaxGrammar),
		Vocabulary:           clampInt(r.Vocabulary, 0, domain.MaxVocabulary),
		Spelling:             clampInt(r.Spelling, 0, domain.MaxSpelling),
		DevelopmentCoherence: clampInt(r.DevelopmentCoherence, 0, domain.MaxDevelopmentCoherence),
		LinguisticRange:      clampInt(r.LinguisticRange, 0, domain.MaxLinguisticRange),
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
