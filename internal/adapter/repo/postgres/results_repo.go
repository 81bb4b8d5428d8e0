package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/jackc/pgx/v5"

	"github.com/fairyhunter13/ai-essay-grader/internal/domain"
)

// ResultRepo persists scoring results. Structured sub-objects (rubric,
// feedback, errors) are stored as jsonb; the overall score and error status
// stay relational for querying.
type ResultRepo struct{ Pool PgxPool }

func NewResultRepo(p PgxPool) *ResultRepo { return &ResultRepo{Pool: p} }

// Upsert writes a result keyed by job_id. Redelivered jobs overwrite their
// previous result, which keeps result writing idempotent.
func (r *ResultRepo) Upsert(ctx domain.Context, res domain.ScoringResult) error {
	tracer := otel.Tracer("repo.results")
	ctx, span := tracer.Start(ctx, "results.Upsert")
	defer span.End()

	rubric, err := json.Marshal(res.Rubric)
	if err != nil {
		return fmt.Errorf("op=result.upsert: marshal rubric: %w", err)
	}
	relevance, err := json.Marshal(res.TopicRelevance)
	if err != nil {
		return fmt.Errorf("op=result.upsert: marshal relevance: %w", err)
	}
	feedback, err := json.Marshal(res.Feedback)
	if err != nil {
		return fmt.Errorf("op=result.upsert: marshal feedback: %w", err)
	}
	suggestions, err := json.Marshal(res.Suggestions)
	if err != nil {
		return fmt.Errorf("op=result.upsert: marshal suggestions: %w", err)
	}
	highlighted, err := json.Marshal(res.HighlightedErrors)
	if err != nil {
		return fmt.Errorf("op=result.upsert: marshal errors: %w", err)
	}

	q := `INSERT INTO scoring_results
	(job_id, rubric, overall_score, topic_relevance, feedback, suggestions, highlighted_errors, error_status, failure_reason, model_id, created_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	ON CONFLICT (job_id) DO UPDATE SET
	rubric=EXCLUDED.rubric, overall_score=EXCLUDED.overall_score, topic_relevance=EXCLUDED.topic_relevance,
	feedback=EXCLUDED.feedback, suggestions=EXCLUDED.suggestions, highlighted_errors=EXCLUDED.highlighted_errors,
	error_status=EXCLUDED.error_status, failure_reason=EXCLUDED.failure_reason, model_id=EXCLUDED.model_id`
	createdAt := res.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = r.Pool.Exec(ctx, q, res.JobID, rubric, res.OverallScore, relevance, feedback, suggestions, highlighted,
		res.ErrorStatus, res.FailureReason, res.ModelID, createdAt)
	if err != nil {
		return fmt.Errorf("op=result.upsert: %w", err)
	}
	return nil
}

// GetByJobID loads a result by its job id.
func (r *ResultRepo) GetByJobID(ctx domain.Context, jobID string) (domain.ScoringResult, error) {
	tracer := otel.Tracer("repo.results")
	ctx, span := tracer.Start(ctx, "results.GetByJobID")
	defer span.End()

	q := `SELECT job_id, rubric, overall_score, topic_relevance, feedback, suggestions, highlighted_errors,
	COALESCE(error_status,''), COALESCE(failure_reason,''), model_id, created_at
	FROM scoring_results WHERE job_id=$1`

	var res domain.ScoringResult
	var rubric, relevance, feedback, suggestions, highlighted []byte
	err := r.Pool.QueryRow(ctx, q, jobID).Scan(&res.JobID, &rubric, &res.OverallScore, &relevance, &feedback,
		&suggestions, &highlighted, &res.ErrorStatus, &res.FailureReason, &res.ModelID, &res.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ScoringResult{}, fmt.Errorf("op=result.get: %w", domain.ErrNotFound)
		}
		return domain.ScoringResult{}, fmt.Errorf("op=result.get: %w", err)
	}

	if err := json.Unmarshal(rubric, &res.Rubric); err != nil {
		return domain.ScoringResult{}, fmt.Errorf("op=result.get: rubric: %w", err)
	}
	if err := json.Unmarshal(relevance, &res.TopicRelevance); err != nil {
		return domain.ScoringResult{}, fmt.Errorf("op=result.get: relevance: %w", err)
	}
	if err := json.Unmarshal(feedback, &res.Feedback); err != nil {
		return domain.ScoringResult{}, fmt.Errorf("op=result.get: feedback: %w", err)
	}
	if err := json.Unmarshal(suggestions, &res.Suggestions); err != nil {
		return domain.ScoringResult{}, fmt.Errorf("op=result.get: suggestions: %w", err)
	}
	if err := json.Unmarshal(highlighted, &res.HighlightedErrors); err != nil {
		return domain.ScoringResult{}, fmt.Errorf("op=result.get: errors: %w", err)
	}
	return res, nil
}
