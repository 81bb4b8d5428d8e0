package scoring_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-essay-grader/internal/domain"
	"github.com/fairyhunter13/ai-essay-grader/internal/scoring"
)

func TestEnhanceErrorsKeepsValidSpans(t *testing.T) {
	t.Parallel()
	content := "Everyone are happy about the results of the study."
	proposed := []domain.HighlightedError{
		{Text: "Everyone are", Type: domain.ErrorGrammar, Suggestion: "Everyone is", StartIndex: 0, EndIndex: 12},
	}

	out := scoring.EnhanceErrors(content, proposed, 1, 0.8)
	require.NotEmpty(t, out)
	assert.Equal(t, "Everyone are", out[0].Text)
	assert.Equal(t, 0, out[0].StartIndex)
}

func TestEnhanceErrorsReanchorsBadIndices(t *testing.T) {
	t.Parallel()
	content := "The study shows that people is often wrong about risk."
	proposed := []domain.HighlightedError{
		{Text: "people is", Type: domain.ErrorGrammar, StartIndex: 3, EndIndex: 12},
	}

	out := scoring.EnhanceErrors(content, proposed, 1, 0.8)
	require.Len(t, out, 1)
	assert.Equal(t, 21, out[0].StartIndex)
	assert.Equal(t, "people is", content[out[0].StartIndex:out[0].EndIndex])
}

func TestEnhanceErrorsCaseInsensitiveFallback(t *testing.T) {
	t.Parallel()
	content := "Nowadays a lot of students study abroad."
	proposed := []domain.HighlightedError{
		{Text: "A Lot Of", Type: domain.ErrorVocabulary, StartIndex: 0, EndIndex: 8},
	}

	out := scoring.EnhanceErrors(content, proposed, 1, 0.8)
	require.Len(t, out, 1)
	assert.Equal(t, "a lot of", out[0].Text, "span text is rewritten to the essay's casing")
}

func TestEnhanceErrorsDiscardsFabricatedSpans(t *testing.T) {
	t.Parallel()
	content := "This essay discusses education."
	proposed := []domain.HighlightedError{
		{Text: "completely absent phrase", Type: domain.ErrorGrammar, StartIndex: 0, EndIndex: 10},
	}

	out := scoring.EnhanceErrors(content, proposed, 0, 0.0)
	assert.Empty(t, out)
}

func TestEnhanceErrorsTopsUpFromDetectors(t *testing.T) {
	t.Parallel()
	content := "Everyone are sure this is very good. I don't agree that a lot of people depend of luck."

	out := scoring.EnhanceErrors(content, nil, 4, 0.8)
	require.GreaterOrEqual(t, len(out), 4)

	for i, e := range out {
		assert.Equal(t, e.Text, content[e.StartIndex:e.EndIndex])
		if i > 0 {
			assert.GreaterOrEqual(t, e.StartIndex, out[i-1].EndIndex, "spans must not overlap")
		}
	}

	types := map[domain.ErrorType]bool{}
	for _, e := range out {
		types[e.Type] = true
	}
	assert.True(t, types[domain.ErrorGrammar])
}

func TestEnhanceErrorsSkipsOverlappingDetections(t *testing.T) {
	t.Parallel()
	content := "Everyone are sure the plan works."
	proposed := []domain.HighlightedError{
		{Text: "Everyone are", Type: domain.ErrorGrammar, StartIndex: 0, EndIndex: 12},
	}

	out := scoring.EnhanceErrors(content, proposed, 5, 0.8)
	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i].StartIndex, out[i-1].EndIndex)
	}
}

func TestEnhanceErrorsNoTopUpWhenCoverageMet(t *testing.T) {
	t.Parallel()
	content := "I don't think this very good plan helps."
	proposed := []domain.HighlightedError{
		{Text: "don't", Type: domain.ErrorCoherence, StartIndex: 2, EndIndex: 7},
	}

	out := scoring.EnhanceErrors(content, proposed, 1, 0.1)
	assert.Len(t, out, 1, "detectors stay off while count and coverage suffice")
}
