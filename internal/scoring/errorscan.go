package scoring

import (
	"regexp"
	"sort"
	"strings"

	"github.com/fairyhunter13/ai-essay-grader/internal/domain"
)

// grammarPatterns flag frequent learner mistakes: agreement, tense,
// article, and preposition errors.
var grammarPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(everyone|someone|anyone|nobody|everybody)\s+(are|were)\b`),
	regexp.MustCompile(`(?i)\b(news|mathematics|physics|economics)\s+(are|were)\b`),
	regexp.MustCompile(`(?i)\b(people|children|men|women)\s+(is|was)\b`),
	regexp.MustCompile(`(?i)\b(have|has)\s+(went|came|wrote|took)\b`),
	regexp.MustCompile(`(?i)\b(will)\s+(going|coming)\s+to\b`),
	regexp.MustCompile(`(?i)\bdepend\s+of\b`),
	regexp.MustCompile(`(?i)\binterested\s+on\b`),
	regexp.MustCompile(`(?i)\bgood\s+in\b`),
	regexp.MustCompile(`(?i)\bdifferent\s+than\b`),
}

// vocabularyRewrites map basic phrasing to academic alternatives. The first
// alternative becomes the suggestion; all of them go in the explanation.
var vocabularyRewrites = []struct {
	basic    *regexp.Regexp
	advanced []string
}{
	{regexp.MustCompile(`(?i)\bvery\s+good\b`), []string{"excellent", "outstanding", "exceptional"}},
	{regexp.MustCompile(`(?i)\bvery\s+bad\b`), []string{"terrible", "dreadful", "appalling"}},
	{regexp.MustCompile(`(?i)\ba\s+lot\s+of\b`), []string{"numerous", "substantial", "considerable"}},
	{regexp.MustCompile(`(?i)\bbig\b`), []string{"significant", "substantial", "major"}},
	{regexp.MustCompile(`(?i)\bsmall\b`), []string{"minor", "minimal", "insignificant"}},
	{regexp.MustCompile(`(?i)\bthing\b`), []string{"aspect", "element", "factor"}},
}

// contractionPattern flags informal contractions, which cost register marks
// in academic writing.
var contractionPattern = regexp.MustCompile(`(?i)\b(don't|won't|can't|wouldn't|shouldn't|isn't|aren't)\b`)

// EnhanceErrors validates the model's highlighted error spans against the
// essay text and tops them up with deterministic detections when the model
// under-reports. minCount is the desired minimum number of errors;
// coverageTarget is the fraction of essay characters the combined spans
// should reach before the detectors stay off.
func EnhanceErrors(content string, proposed []domain.HighlightedError, minCount int, coverageTarget float64) []domain.HighlightedError {
	valid := validateSpans(content, proposed)

	if len(valid) >= minCount && charCoverage(content, valid) >= coverageTarget {
		sortSpans(valid)
		return valid
	}

	for _, d := range detectErrors(content) {
		if len(valid) >= minCount && charCoverage(content, valid) >= coverageTarget {
			break
		}
		if overlapsAny(d, valid) {
			continue
		}
		valid = append(valid, d)
	}
	sortSpans(valid)
	return valid
}

func charCoverage(content string, spans []domain.HighlightedError) float64 {
	if len(content) == 0 {
		return 1.0
	}
	covered := 0
	for _, s := range spans {
		covered += s.EndIndex - s.StartIndex
	}
	return float64(covered) / float64(len(content))
}

// validateSpans keeps only spans whose text actually occurs in the essay.
// The model's indices are advisory: when they don't line up with the quoted
// text the span is re-anchored by exact search, then case-insensitive
// search, then dropped.
func validateSpans(content string, proposed []domain.HighlightedError) []domain.HighlightedError {
	valid := make([]domain.HighlightedError, 0, len(proposed))
	for _, e := range proposed {
		if e.Text == "" {
			continue
		}
		if e.StartIndex >= 0 && e.EndIndex <= len(content) && e.StartIndex < e.EndIndex &&
			content[e.StartIndex:e.EndIndex] == e.Text {
			valid = append(valid, e)
			continue
		}
		if idx := strings.Index(content, e.Text); idx >= 0 {
			e.StartIndex = idx
			e.EndIndex = idx + len(e.Text)
			valid = append(valid, e)
			continue
		}
		if idx := strings.Index(strings.ToLower(content), strings.ToLower(e.Text)); idx >= 0 {
			e.Text = content[idx : idx+len(e.Text)]
			e.StartIndex = idx
			e.EndIndex = idx + len(e.Text)
			valid = append(valid, e)
		}
	}
	return valid
}

func detectErrors(content string) []domain.HighlightedError {
	var out []domain.HighlightedError

	for _, p := range grammarPatterns {
		for _, loc := range p.FindAllStringIndex(content, -1) {
			out = append(out, domain.HighlightedError{
				Text:        content[loc[0]:loc[1]],
				Type:        domain.ErrorGrammar,
				Suggestion:  "Check grammar rules",
				Explanation: "Common grammatical error in essay writing",
				StartIndex:  loc[0],
				EndIndex:    loc[1],
			})
		}
	}

	for _, vr := range vocabularyRewrites {
		for _, loc := range vr.basic.FindAllStringIndex(content, -1) {
			out = append(out, domain.HighlightedError{
				Text:        content[loc[0]:loc[1]],
				Type:        domain.ErrorVocabulary,
				Suggestion:  vr.advanced[0],
				Explanation: "Replace basic vocabulary with more academic alternatives: " + strings.Join(vr.advanced, ", "),
				StartIndex:  loc[0],
				EndIndex:    loc[1],
			})
		}
	}

	for _, loc := range contractionPattern.FindAllStringIndex(content, -1) {
		out = append(out, domain.HighlightedError{
			Text:        content[loc[0]:loc[1]],
			Type:        domain.ErrorCoherence,
			Suggestion:  "Use the full form",
			Explanation: "Contractions are informal in academic writing",
			StartIndex:  loc[0],
			EndIndex:    loc[1],
		})
	}

	sortSpans(out)
	return out
}

func overlapsAny(e domain.HighlightedError, existing []domain.HighlightedError) bool {
	for _, x := range existing {
		if e.StartIndex < x.EndIndex && x.StartIndex < e.EndIndex {
			return true
		}
	}
	return false
}

func sortSpans(spans []domain.HighlightedError) {
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].StartIndex != spans[j].StartIndex {
			return spans[i].StartIndex < spans[j].StartIndex
		}
		return spans[i].EndIndex < spans[j].EndIndex
	})
}
