package ai

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"log/slog"

	"github.com/fairyhunter13/ai-essay-grader/internal/domain"
)

var (
	fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	fenceMarkerRe = regexp.MustCompile("```(?:json)?")

	relevanceScoreRe = regexp.MustCompile(`(?i)"?relevanceScore"?\s*[:=]\s*(\d{1,3})`)
	isOnTopicRe      = regexp.MustCompile(`(?i)"?isOnTopic"?\s*[:=]\s*(true|false)`)
)

// criterionRes extract individual rubric fields from truncated output.
var criterionRes = map[string]*regexp.Regexp{
	"content":              regexp.MustCompile(`(?i)"?content"?\s*[:=]\s*(\d)`),
	"form":                 regexp.MustCompile(`(?i)"?form"?\s*[:=]\s*(\d)`),
	"grammar":              regexp.MustCompile(`(?i)"?grammar"?\s*[:=]\s*(\d)`),
	"vocabulary":           regexp.MustCompile(`(?i)"?vocabulary"?\s*[:=]\s*(\d)`),
	"spelling":             regexp.MustCompile(`(?i)"?spelling"?\s*[:=]\s*(\d)`),
	"developmentCoherence": regexp.MustCompile(`(?i)"?developmentCoherence"?\s*[:=]\s*(\d)`),
	"linguisticRange":      regexp.MustCompile(`(?i)"?linguisticRange"?\s*[:=]\s*(\d)`),
}

// modelResponse is the wire shape the prompt demands.
type modelResponse struct {
	TopicRelevance *struct {
		IsOnTopic      bool   `json:"isOnTopic"`
		RelevanceScore int    `json:"relevanceScore"`
		Explanation    string `json:"explanation"`
	} `json:"topicRelevance"`
	RubricScores *domain.RubricScores `json:"rubricScores"`
	Feedback     struct {
		Summary      string            `json:"summary"`
		Strengths    []string          `json:"strengths"`
		Improvements []string          `json:"improvements"`
		PerCriterion map[string]string `json:"perCriterion"`
	} `json:"feedback"`
	Suggestions       []string                  `json:"suggestions"`
	HighlightedErrors []domain.HighlightedError `json:"highlightedErrors"`
}

// ParseScoringResponse extracts a structured analysis from free-form model
// output. It tries, in order: a fenced code block, the first-brace to
// last-brace substring, and the text with fence markers stripped. A parse
// that lacks both relevance and rubric fields goes through partial
// recovery; total failure yields the strict zero-score fallback, never a
// fabricated passing grade.
func ParseScoringResponse(raw string) domain.ModelAnalysis {
	for _, candidate := range jsonCandidates(raw) {
		var mr modelResponse
		if err := json.Unmarshal([]byte(candidate), &mr); err != nil {
			continue
		}
		if mr.TopicRelevance == nil && mr.RubricScores == nil {
			break
		}
		return analysisFrom(mr)
	}

	if looksLikeErrorDump(raw) {
		slog.Warn("model returned a non-JSON dump, using strict fallback",
			slog.Int("response_len", len(raw)))
		return failedAnalysis("model returned unparseable tabular output")
	}

	if analysis, ok := attemptPartialRecovery(raw); ok {
		slog.Warn("recovered partial analysis from truncated model output")
		return analysis
	}

	slog.Warn("model response unparseable, using strict fallback",
		slog.Int("response_len", len(raw)))
	return failedAnalysis("model response could not be parsed")
}

// jsonCandidates yields substrings of raw worth attempting as JSON, most
// reliable extraction first.
func jsonCandidates(raw string) []string {
	var out []string
	if m := fencedBlockRe.FindStringSubmatch(raw); m != nil {
		out = append(out, m[1])
	}
	if i, j := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); i >= 0 && j > i {
		out = append(out, raw[i:j+1])
	}
	if stripped := strings.TrimSpace(fenceMarkerRe.ReplaceAllString(raw, "")); stripped != "" {
		out = append(out, stripped)
	}
	return out
}

func analysisFrom(mr modelResponse) domain.ModelAnalysis {
	a := domain.ModelAnalysis{
		Feedback: domain.Feedback{
			Summary:      mr.Feedback.Summary,
			Strengths:    mr.Feedback.Strengths,
			Improvements: mr.Feedback.Improvements,
			PerCriterion: mr.Feedback.PerCriterion,
		},
		Suggestions:       mr.Suggestions,
		HighlightedErrors: mr.HighlightedErrors,
		Status:            domain.AnalysisOK,
	}
	if mr.TopicRelevance != nil {
		a.TopicRelevance = domain.TopicRelevance{
			IsOnTopic:      mr.TopicRelevance.IsOnTopic,
			RelevanceScore: mr.TopicRelevance.RelevanceScore,
			Explanation:    mr.TopicRelevance.Explanation,
		}
	}
	if mr.RubricScores != nil {
		a.Rubric = *mr.RubricScores
	}
	// One half missing is still usable but flagged.
	if mr.TopicRelevance == nil || mr.RubricScores == nil {
		a.Status = domain.AnalysisPartial
		a.PartiallyRecovered = true
		if mr.TopicRelevance == nil {
			a.TopicRelevance = domain.TopicRelevance{IsOnTopic: true, RelevanceScore: 70, Explanation: "relevance not returned by model"}
		}
	}
	return a
}

// attemptPartialRecovery scrapes recognizable fields out of truncated
// output. Unrecovered criteria default to 1, a deliberately conservative
// middle-low value.
func attemptPartialRecovery(raw string) (domain.ModelAnalysis, bool) {
	relM := relevanceScoreRe.FindStringSubmatch(raw)

	recovered := map[string]int{}
	for name, re := range criterionRes {
		if m := re.FindStringSubmatch(raw); m != nil {
			if v, err := strconv.Atoi(m[1]); err == nil {
				recovered[name] = v
			}
		}
	}

	if relM == nil && len(recovered) == 0 {
		return domain.ModelAnalysis{}, false
	}

	rel := 50
	if relM != nil {
		if v, err := strconv.Atoi(relM[1]); err == nil {
			rel = v
		}
	}
	onTopic := rel >= 70
	if m := isOnTopicRe.FindStringSubmatch(raw); m != nil {
		onTopic = m[1] == "true"
	}

	pick := func(name string) int {
		if v, ok := recovered[name]; ok {
			return v
		}
		return 1
	}

	return domain.ModelAnalysis{
		TopicRelevance: domain.TopicRelevance{
			IsOnTopic:      onTopic,
			RelevanceScore: rel,
			Explanation:    "recovered from truncated model output",
		},
		Rubric: domain.RubricScores{
			Content:              pick("content"),
			Form:                 pick("form"),
			Grammar:              pick("grammar"),
			Vocabulary:           pick("vocabulary"),
			Spelling:             pick("spelling"),
			DevelopmentCoherence: pick("developmentCoherence"),
			LinguisticRange:      pick("linguisticRange"),
		},
		Feedback: domain.Feedback{
			Summary: "The analysis was partially recovered from an incomplete model response; scores are conservative.",
		},
		Status:             domain.AnalysisPartial,
		PartiallyRecovered: true,
	}, true
}

// looksLikeErrorDump detects tabular or markdown-table output, which some
// models emit when they refuse or error out.
func looksLikeErrorDump(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return true
	}
	lines := strings.Split(trimmed, "\n")
	tableLines := 0
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if strings.HasPrefix(l, "|") && strings.Count(l, "|") >= 2 {
			tableLines++
		}
	}
	return tableLines >= 2 && !strings.Contains(trimmed, "{")
}

func failedAnalysis(reason string) domain.ModelAnalysis {
	return domain.ModelAnalysis{
		TopicRelevance: domain.TopicRelevance{Explanation: reason},
		Rubric:         domain.RubricScores{},
		Feedback:       domain.Feedback{Summary: "Automated analysis failed for this submission."},
		Status:         domain.AnalysisFailed,
		FailureReason:  reason,
	}
}
