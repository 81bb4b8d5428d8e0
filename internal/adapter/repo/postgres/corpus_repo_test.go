package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-essay-grader/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-essay-grader/internal/domain"
)

func exemplarRow(e domain.Exemplar) func(dest ...any) error {
	breakdown, _ := json.Marshal(e.Breakdown)
	strengths, _ := json.Marshal(e.Strengths)
	weaknesses, _ := json.Marshal(e.Weaknesses)
	var embedding []byte
	if len(e.Embedding) > 0 {
		embedding, _ = json.Marshal(e.Embedding)
	}
	return func(dest ...any) error {
		*(dest[0].(*string)) = e.ID
		*(dest[1].(*string)) = e.Topic
		*(dest[2].(*string)) = e.Category
		*(dest[3].(*string)) = e.Text
		*(dest[4].(*int)) = e.WordCount
		*(dest[5].(*int)) = e.OfficialScore
		*(dest[6].(*[]byte)) = breakdown
		*(dest[7].(*[]byte)) = strengths
		*(dest[8].(*[]byte)) = weaknesses
		*(dest[9].(*[]byte)) = embedding
		return nil
	}
}

func TestCorpusRepoListWithEmbeddings(t *testing.T) {
	t.Parallel()
	want := domain.Exemplar{
		ID: "e1", Topic: "cities", Category: "argument", Text: "essay text", WordCount: 250,
		OfficialScore: 71,
		Breakdown:     domain.RubricScores{Content: 2, Form: 2, Grammar: 2, Vocabulary: 1, Spelling: 1, DevelopmentCoherence: 2, LinguisticRange: 1},
		Strengths:     []string{"clear stance"},
		Embedding:     []float32{0.1, 0.2},
	}
	pool := &poolStub{rows: &rowsStub{rows: []func(dest ...any) error{exemplarRow(want)}}}
	repo := postgres.NewCorpusRepo(pool)

	got, err := repo.ListWithEmbeddings(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, want.ID, got[0].ID)
	assert.Equal(t, want.Breakdown, got[0].Breakdown)
	assert.Equal(t, want.Embedding, got[0].Embedding)
	assert.Contains(t, pool.lastSQL, "embedding IS NOT NULL")
}

func TestCorpusRepoFindByTopic(t *testing.T) {
	t.Parallel()
	want := domain.Exemplar{ID: "e2", Topic: "cities", WordCount: 230, OfficialScore: 64}
	pool := &poolStub{rows: &rowsStub{rows: []func(dest ...any) error{exemplarRow(want)}}}
	repo := postgres.NewCorpusRepo(pool)

	got, err := repo.FindByTopic(context.Background(), "Cities", 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "e2", got[0].ID)
	assert.Contains(t, pool.lastSQL, "lower(topic)=lower($1)")
}

func TestCorpusRepoQueryError(t *testing.T) {
	t.Parallel()
	pool := &poolStub{queryErr: errors.New("down")}
	repo := postgres.NewCorpusRepo(pool)

	_, err := repo.ListWithEmbeddings(context.Background(), 10)
	assert.ErrorContains(t, err, "op=corpus.list")
}

func TestCorpusRepoPut(t *testing.T) {
	t.Parallel()
	pool := &poolStub{execTag: pgconn.NewCommandTag("INSERT 0 1")}
	repo := postgres.NewCorpusRepo(pool)

	err := repo.Put(context.Background(), domain.Exemplar{Topic: "cities", Text: "t", WordCount: 250, OfficialScore: 85})
	require.NoError(t, err)
	assert.Contains(t, pool.lastSQL, "INSERT INTO corpus_essays")
	assert.Contains(t, pool.lastSQL, "ON CONFLICT (id)")
}
