// Package ai holds the AI adapter pieces shared by implementations: prompt
// composition with injection hardening, response parsing and recovery, and
// the embedding cache.
package ai

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fairyhunter13/ai-essay-grader/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/ai-essay-grader/internal/domain"
	"github.com/fairyhunter13/ai-essay-grader/pkg/textx"
)

// injectionPatterns strip structural tokens a submission could use to break
// out of its quoted role: template braces, chat-format control markers,
// fake role prefixes, and explicit override phrases.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\{\{[^}]*\}\}`),
	regexp.MustCompile(`\{%[^}]*%\}`),
	regexp.MustCompile(`(?i)\[/?INST\]`),
	regexp.MustCompile(`(?i)<<\s*/?SYS\s*>>`),
	regexp.MustCompile(`(?i)<\|im_(start|end)\|>`),
	regexp.MustCompile(`(?i)<\|(system|user|assistant|endoftext)\|>`),
	regexp.MustCompile(`(?i)\b(ignore|disregard|forget)\s+(all\s+|any\s+|the\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?im)^\s*(system|assistant|user)\s*:\s*`),
}

// SanitizePrompt hardens user-supplied text before it enters a prompt.
// Applied to both topic and essay content.
func SanitizePrompt(s string) string {
	s = textx.SanitizeText(s)
	for _, p := range injectionPatterns {
		s = p.ReplaceAllString(s, " ")
	}
	return textx.CollapseWhitespace(s)
}

// SystemPrompt is the fixed evaluator persona sent with every scoring call.
const SystemPrompt = `You are a strict, experienced English essay examiner. You grade written essays against a fixed rubric and realistic population standards. You respond with exactly one JSON object and nothing else: no markdown, no commentary, no code fences.`

// Composer renders scoring prompts and keeps them under a token budget by
// dropping the least similar exemplars first.
type Composer struct {
	counter    *tokencount.Counter
	model      string
	tokenLimit int
}

func NewComposer(model string, tokenLimit int) *Composer {
	return &Composer{counter: tokencount.DefaultCounter, model: model, tokenLimit: tokenLimit}
}

// Compose builds the user prompt for one essay. Exemplars arrive best
// first; trailing ones are dropped until the prompt fits the token limit.
func (c *Composer) Compose(topic, content string, wordCount int, exemplars []domain.Exemplar) string {
	topic = SanitizePrompt(topic)
	content = SanitizePrompt(content)

	for n := len(exemplars); n >= 0; n-- {
		prompt := renderPrompt(topic, content, wordCount, exemplars[:n])
		if c.tokenLimit <= 0 || c.counter.EstimateTokens(prompt, c.model) <= c.tokenLimit {
			return prompt
		}
	}
	return renderPrompt(topic, content, wordCount, nil)
}

func renderPrompt(topic, content string, wordCount int, exemplars []domain.Exemplar) string {
	var b strings.Builder

	b.WriteString("Grade the essay below.\n\n")
	b.WriteString("RUBRIC (raw points):\n")
	b.WriteString("- content: 0-3 (relevance and depth of ideas)\n")
	b.WriteString("- form: 0-2 (length and structure; required band is 200-300 words)\n")
	b.WriteString("- grammar: 0-2\n")
	b.WriteString("- vocabulary: 0-2\n")
	b.WriteString("- spelling: 0-1\n")
	b.WriteString("- developmentCoherence: 0-2\n")
	b.WriteString("- linguisticRange: 0-2\n\n")

	b.WriteString("TOPIC RELEVANCE RULES (strict):\n")
	b.WriteString("Judge whether the essay answers THIS topic, not whether it is well written.\n")
	b.WriteString("- relevanceScore >= 90: the essay directly addresses the topic's question throughout.\n")
	b.WriteString("- 70-89: addresses the topic but drifts or covers it only partially.\n")
	b.WriteString("- 50-69: mentions the topic area but argues a different question.\n")
	b.WriteString("- < 50: off topic, however fluent the writing is.\n")
	b.WriteString("Worked examples:\n")
	b.WriteString(`- Topic "Should university education be free?", essay argues for and against free tuition: relevanceScore about 95, isOnTopic true.` + "\n")
	b.WriteString(`- Topic "Should university education be free?", essay describes the writer's university experience without discussing tuition: relevanceScore about 55, isOnTopic false.` + "\n")
	b.WriteString(`- Topic "Should university education be free?", essay about climate change: relevanceScore about 10, isOnTopic false.` + "\n\n")

	if len(exemplars) > 0 {
		b.WriteString("REFERENCE ESSAYS with official scores, most similar first. Use them to anchor your standards, but calibrate toward a stricter, realistic distribution: most essays score in the middle bands, and near-perfect totals are rare. Do not inflate to match a reference.\n\n")
		for i, e := range exemplars {
			fmt.Fprintf(&b, "Reference %d (topic: %s, %d words, official score %d/90):\n", i+1, e.Topic, e.WordCount, e.OfficialScore)
			fmt.Fprintf(&b, "  breakdown: content %d, form %d, grammar %d, vocabulary %d, spelling %d, developmentCoherence %d, linguisticRange %d\n",
				e.Breakdown.Content, e.Breakdown.Form, e.Breakdown.Grammar, e.Breakdown.Vocabulary,
				e.Breakdown.Spelling, e.Breakdown.DevelopmentCoherence, e.Breakdown.LinguisticRange)
			if len(e.Strengths) > 0 {
				fmt.Fprintf(&b, "  strengths: %s\n", strings.Join(e.Strengths, "; "))
			}
			if len(e.Weaknesses) > 0 {
				fmt.Fprintf(&b, "  weaknesses: %s\n", strings.Join(e.Weaknesses, "; "))
			}
			fmt.Fprintf(&b, "  text: %s\n\n", excerpt(e.Text, 1200))
		}
	}

	fmt.Fprintf(&b, "TOPIC: %s\n\n", topic)
	fmt.Fprintf(&b, "ESSAY (%d words):\n%s\n\n", wordCount, content)

	b.WriteString("Respond with ONE JSON object, nothing else:\n")
	b.WriteString(`{
  "topicRelevance": {"isOnTopic": boolean, "relevanceScore": 0-100, "explanation": string},
  "rubricScores": {"content": 0-3, "form": 0-2, "grammar": 0-2, "vocabulary": 0-2, "spelling": 0-1, "developmentCoherence": 0-2, "linguisticRange": 0-2},
  "scaledScores": {"overall": 0-90},
  "feedback": {"summary": string, "strengths": [string], "improvements": [string], "perCriterion": {criterion: string}},
  "suggestions": [string],
  "highlightedErrors": [{"text": exact essay substring, "type": "grammar"|"vocabulary"|"coherence"|"spelling", "suggestion": string, "explanation": string, "startIndex": number, "endIndex": number}]
}
startIndex and endIndex are exact character offsets into the essay text; "text" must equal the essay substring at those offsets.`)

	return b.String()
}

func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
