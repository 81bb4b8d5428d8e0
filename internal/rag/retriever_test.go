package rag_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-essay-grader/internal/domain"
	"github.com/fairyhunter13/ai-essay-grader/internal/rag"
)

type fakeCorpus struct {
	withEmbeddings []domain.Exemplar
	byTopic        []domain.Exemplar
	listErr        error
	topicErr       error
}

func (f *fakeCorpus) ListWithEmbeddings(_ domain.Context, _ int) ([]domain.Exemplar, error) {
	return f.withEmbeddings, f.listErr
}

func (f *fakeCorpus) FindByTopic(_ domain.Context, _ string, _ int) ([]domain.Exemplar, error) {
	return f.byTopic, f.topicErr
}

func (f *fakeCorpus) Put(_ domain.Context, _ domain.Exemplar) error { return nil }

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(_ domain.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func (f *fakeEmbedder) ChatJSON(_ domain.Context, _, _ string, _ int) (string, error) {
	return "", errors.New("not implemented")
}

func TestBuildContextVectorPath(t *testing.T) {
	t.Parallel()
	corpus := &fakeCorpus{withEmbeddings: []domain.Exemplar{
		{ID: "near", Topic: "cities", Embedding: []float32{1, 0}},
		{ID: "off", Topic: "space", Embedding: []float32{0, 1}},
	}}
	r := rag.NewRetriever(corpus, &fakeEmbedder{vec: []float32{1, 0}}, rag.Options{})

	out := r.BuildContext(context.Background(), "cities", "Urban life grows.")
	assert.True(t, out.UsedVectorSearch)
	require.Len(t, out.Exemplars, 1)
	assert.Equal(t, "near", out.Exemplars[0].ID)
	assert.InDelta(t, 1.0, out.Exemplars[0].Similarity, 1e-9)
}

func TestBuildContextTopicFallbackOnEmbedFailure(t *testing.T) {
	t.Parallel()
	corpus := &fakeCorpus{byTopic: []domain.Exemplar{
		{ID: "far", WordCount: 500},
		{ID: "close", WordCount: 10},
		{ID: "mid", WordCount: 120},
	}}
	r := rag.NewRetriever(corpus, &fakeEmbedder{err: errors.New("embeddings down")}, rag.Options{FallbackLimit: 2})

	out := r.BuildContext(context.Background(), "cities", "one two three four five six seven eight nine ten")
	assert.False(t, out.UsedVectorSearch)
	require.Len(t, out.Exemplars, 2)
	assert.Equal(t, "close", out.Exemplars[0].ID, "word-count proximity orders the fallback")
	assert.Equal(t, "mid", out.Exemplars[1].ID)
}

func TestBuildContextTopicFallbackOnLowSimilarity(t *testing.T) {
	t.Parallel()
	corpus := &fakeCorpus{
		withEmbeddings: []domain.Exemplar{{ID: "off", Embedding: []float32{0, 1}}},
		byTopic:        []domain.Exemplar{{ID: "topical", WordCount: 9}},
	}
	r := rag.NewRetriever(corpus, &fakeEmbedder{vec: []float32{1, 0}}, rag.Options{MinSimilarity: 0.7})

	out := r.BuildContext(context.Background(), "cities", "words here now")
	assert.False(t, out.UsedVectorSearch)
	require.Len(t, out.Exemplars, 1)
	assert.Equal(t, "topical", out.Exemplars[0].ID)
}

func TestBuildContextDegradedWhenNothingFound(t *testing.T) {
	t.Parallel()
	corpus := &fakeCorpus{topicErr: errors.New("db down")}
	r := rag.NewRetriever(corpus, &fakeEmbedder{err: errors.New("embeddings down")}, rag.Options{})

	out := r.BuildContext(context.Background(), "cities", "text")
	assert.Empty(t, out.Exemplars)
	assert.False(t, out.UsedVectorSearch)
}

func TestQueryTextTruncatesLongEssays(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("a", 10000)
	q := rag.QueryText("My Topic", long)
	assert.True(t, strings.HasPrefix(q, "Topic: My Topic\n\nEssay: "))
	assert.LessOrEqual(t, len(q), 3000+len("Topic: My Topic\n\nEssay: "))
}
