package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-essay-grader/internal/domain"
)

// CorpusRepo stores the reference essay corpus. Embeddings live in a jsonb
// column; ranking happens in process, which is fine at corpus scale (a few
// hundred exemplars scanned per job).
type CorpusRepo struct{ Pool PgxPool }

func NewCorpusRepo(p PgxPool) *CorpusRepo { return &CorpusRepo{Pool: p} }

// ListWithEmbeddings loads up to limit exemplars that have embeddings, for
// in-process similarity ranking.
func (r *CorpusRepo) ListWithEmbeddings(ctx domain.Context, limit int) ([]domain.Exemplar, error) {
	tracer := otel.Tracer("repo.corpus")
	ctx, span := tracer.Start(ctx, "corpus.ListWithEmbeddings")
	defer span.End()

	q := `SELECT id, topic, category, text, word_count, official_score, breakdown, strengths, weaknesses, embedding
	FROM corpus_essays WHERE embedding IS NOT NULL LIMIT $1`
	rows, err := r.Pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("op=corpus.list: %w", err)
	}
	defer rows.Close()

	var out []domain.Exemplar
	for rows.Next() {
		e, err := scanExemplar(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("op=corpus.list: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=corpus.list: %w", err)
	}
	return out, nil
}

// FindByTopic loads exemplars whose topic matches exactly, case-insensitive.
func (r *CorpusRepo) FindByTopic(ctx domain.Context, topic string, limit int) ([]domain.Exemplar, error) {
	tracer := otel.Tracer("repo.corpus")
	ctx, span := tracer.Start(ctx, "corpus.FindByTopic")
	defer span.End()

	q := `SELECT id, topic, category, text, word_count, official_score, breakdown, strengths, weaknesses, embedding
	FROM corpus_essays WHERE lower(topic)=lower($1) LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, topic, limit)
	if err != nil {
		return nil, fmt.Errorf("op=corpus.find_by_topic: %w", err)
	}
	defer rows.Close()

	var out []domain.Exemplar
	for rows.Next() {
		e, err := scanExemplar(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("op=corpus.find_by_topic: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=corpus.find_by_topic: %w", err)
	}
	return out, nil
}

// Put inserts or replaces an exemplar. Used by seeding and by best-effort
// promotion of high-scoring essays.
func (r *CorpusRepo) Put(ctx domain.Context, e domain.Exemplar) error {
	tracer := otel.Tracer("repo.corpus")
	ctx, span := tracer.Start(ctx, "corpus.Put")
	defer span.End()

	id := e.ID
	if id == "" {
		id = ulid.Make().String()
	}
	breakdown, err := json.Marshal(e.Breakdown)
	if err != nil {
		return fmt.Errorf("op=corpus.put: marshal breakdown: %w", err)
	}
	strengths, err := json.Marshal(e.Strengths)
	if err != nil {
		return fmt.Errorf("op=corpus.put: marshal strengths: %w", err)
	}
	weaknesses, err := json.Marshal(e.Weaknesses)
	if err != nil {
		return fmt.Errorf("op=corpus.put: marshal weaknesses: %w", err)
	}
	var embedding []byte
	if len(e.Embedding) > 0 {
		embedding, err = json.Marshal(e.Embedding)
		if err != nil {
			return fmt.Errorf("op=corpus.put: marshal embedding: %w", err)
		}
	}

	q := `INSERT INTO corpus_essays (id, topic, category, text, word_count, official_score, breakdown, strengths, weaknesses, embedding, created_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	ON CONFLICT (id) DO UPDATE SET
	topic=EXCLUDED.topic, category=EXCLUDED.category, text=EXCLUDED.text, word_count=EXCLUDED.word_count,
	official_score=EXCLUDED.official_score, breakdown=EXCLUDED.breakdown, strengths=EXCLUDED.strengths,
	weaknesses=EXCLUDED.weaknesses, embedding=EXCLUDED.embedding`
	_, err = r.Pool.Exec(ctx, q, id, e.Topic, e.Category, e.Text, e.WordCount, e.OfficialScore,
		breakdown, strengths, weaknesses, embedding, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=corpus.put: %w", err)
	}
	return nil
}

func scanExemplar(scan func(dest ...any) error) (domain.Exemplar, error) {
	var e domain.Exemplar
	var breakdown, strengths, weaknesses, embedding []byte
	if err := scan(&e.ID, &e.Topic, &e.Category, &e.Text, &e.WordCount, &e.OfficialScore,
		&breakdown, &strengths, &weaknesses, &embedding); err != nil {
		return domain.Exemplar{}, err
	}
	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &e.Breakdown); err != nil {
			return domain.Exemplar{}, fmt.Errorf("breakdown: %w", err)
		}
	}
	if len(strengths) > 0 {
		if err := json.Unmarshal(strengths, &e.Strengths); err != nil {
			return domain.Exemplar{}, fmt.Errorf("strengths: %w", err)
		}
	}
	if len(weaknesses) > 0 {
		if err := json.Unmarshal(weaknesses, &e.Weaknesses); err != nil {
			return domain.Exemplar{}, fmt.Errorf("weaknesses: %w", err)
		}
	}
	if len(embedding) > 0 {
		if err := json.Unmarshal(embedding, &e.Embedding); err != nil {
			return domain.Exemplar{}, fmt.Errorf("embedding: %w", err)
		}
	}
	return e, nil
}
