// Package usecase contains the application services behind the HTTP API:
// essay submission and result retrieval.
package usecase

import (
	"fmt"
	"strings"
	"time"

	"github.com/fairyhunter13/ai-essay-grader/internal/domain"
	"github.com/fairyhunter13/ai-essay-grader/pkg/textx"
)

// Submission input bounds. Essays far outside the word band still get
// scored (the calibrator penalizes them); these bounds reject input that
// is not an essay at all.
const (
	MinTopicChars   = 10
	MinContentChars = 50
	MaxContentChars = 5000
	MinWords        = 50
	MaxWords        = 500
)

// SubmitService validates a submission, creates the job, and enqueues the
// scoring task.
type SubmitService struct {
	Jobs  domain.JobRepository
	Queue domain.Queue
}

// NewSubmitService constructs a SubmitService with its dependencies.
func NewSubmitService(j domain.JobRepository, q domain.Queue) SubmitService {
	return SubmitService{Jobs: j, Queue: q}
}

// Submit creates a job for the essay and enqueues it. Returns the job id
// the client polls for the result.
func (s SubmitService) Submit(ctx domain.Context, topic, content, userID string) (string, error) {
	topic = strings.TrimSpace(topic)
	content = strings.TrimSpace(content)
	if err := validateSubmission(topic, content); err != nil {
		return "", err
	}

	wordCount := textx.CountWords(content)
	job := domain.EssayJob{
		Topic:      topic,
		Content:    content,
		WordCount:  wordCount,
		UserID:     userID,
		EnqueuedAt: time.Now().UTC(),
	}
	jobID, err := s.Jobs.Create(ctx, job)
	if err != nil {
		return "", fmt.Errorf("op=submit.create: %w", err)
	}

	payload := domain.ScoreTaskPayload{
		JobID:     jobID,
		Topic:     topic,
		Content:   content,
		WordCount: wordCount,
		UserID:    userID,
	}
	if _, err := s.Queue.EnqueueScore(ctx, payload); err != nil {
		msg := "enqueue failed"
		_ = s.Jobs.UpdateStatus(ctx, jobID, domain.JobFailed, &msg)
		return "", fmt.Errorf("op=submit.enqueue: %w", err)
	}
	return jobID, nil
}

func validateSubmission(topic, content string) error {
	if len(topic) < MinTopicChars {
		return fmt.Errorf("%w: topic must be at least %d characters", domain.ErrInvalidArgument, MinTopicChars)
	}
	if len(content) < MinContentChars {
		return fmt.Errorf("%w: content must be at least %d characters", domain.ErrInvalidArgument, MinContentChars)
	}
	if len(content) > MaxContentChars {
		return fmt.Errorf("%w: content must be at most %d characters", domain.ErrInvalidArgument, MaxContentChars)
	}
	words := textx.CountWords(content)
	if words < MinWords || words > MaxWords {
		return fmt.Errorf("%w: essay must be between %d and %d words, got %d", domain.ErrInvalidArgument, MinWords, MaxWords, words)
	}
	return nil
}
