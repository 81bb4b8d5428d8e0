package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"

	"github.com/jackc/pgx/v5"

	"github.com/fairyhunter13/ai-essay-grader/internal/domain"
)

// JobRepo persists essay jobs.
type JobRepo struct{ Pool PgxPool }

func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p} }

// Create inserts a new job in status received and returns its id.
func (r *JobRepo) Create(ctx domain.Context, j domain.EssayJob) (string, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Create")
	defer span.End()
	id := j.ID
	if id == "" {
		id = ulid.Make().String()
	}
	q := `INSERT INTO essay_jobs (id, topic, content, word_count, user_id, status, error, enqueued_at, updated_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	now := time.Now().UTC()
	_, err := r.Pool.Exec(ctx, q, id, j.Topic, j.Content, j.WordCount, j.UserID, domain.JobReceived, "", now, now)
	if err != nil {
		return "", fmt.Errorf("op=job.create: %w", err)
	}
	return id, nil
}

// Get loads a job by id.
func (r *JobRepo) Get(ctx domain.Context, id string) (domain.EssayJob, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()
	q := `SELECT id, topic, content, word_count, user_id, enqueued_at FROM essay_jobs WHERE id=$1`
	var j domain.EssayJob
	err := r.Pool.QueryRow(ctx, q, id).Scan(&j.ID, &j.Topic, &j.Content, &j.WordCount, &j.UserID, &j.EnqueuedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EssayJob{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
		}
		return domain.EssayJob{}, fmt.Errorf("op=job.get: %w", err)
	}
	return j, nil
}

// UpdateStatus moves a job through its lifecycle. errMsg is only stored for
// failure states.
func (r *JobRepo) UpdateStatus(ctx domain.Context, id string, status domain.JobStatus, errMsg *string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.UpdateStatus")
	defer span.End()
	errVal := ""
	if errMsg != nil {
		errVal = *errMsg
	}
	q := `UPDATE essay_jobs SET status=$2, error=$3, updated_at=$4 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, status, errVal, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=job.update_status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=job.update_status: %w", domain.ErrNotFound)
	}
	return nil
}

// GetStatus loads only the lifecycle status of a job.
func (r *JobRepo) GetStatus(ctx domain.Context, id string) (domain.JobStatus, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.GetStatus")
	defer span.End()
	var status domain.JobStatus
	err := r.Pool.QueryRow(ctx, `SELECT status FROM essay_jobs WHERE id=$1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("op=job.get_status: %w", domain.ErrNotFound)
		}
		return "", fmt.Errorf("op=job.get_status: %w", err)
	}
	return status, nil
}
