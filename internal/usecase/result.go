package usecase

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/fairyhunter13/ai-essay-grader/internal/domain"
	"github.com/fairyhunter13/ai-essay-grader/internal/scoring"
)

// ResultService provides read access to scoring results and assembles the
// API response envelope, including ETag-based conditional responses.
type ResultService struct {
	Jobs    domain.JobRepository
	Results domain.ResultRepository
}

// NewResultService constructs a ResultService with the given repositories.
func NewResultService(j domain.JobRepository, r domain.ResultRepository) ResultService {
	return ResultService{Jobs: j, Results: r}
}

// Fetch returns the HTTP status code, response body, and ETag for the job.
// Pending jobs get a status-only body; completed jobs (including fallback
// completions) get the scored result.
func (s ResultService) Fetch(ctx domain.Context, id, ifNoneMatch string) (int, map[string]any, string, error) {
	status, err := s.Jobs.GetStatus(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return http.StatusNotFound, nil, "", fmt.Errorf("%w: job not found", domain.ErrNotFound)
		}
		return http.StatusInternalServerError, nil, "", err
	}

	if status != domain.JobCompleted && status != domain.JobCompletedWithFallback {
		m := map[string]any{"id": id, "status": string(status)}
		return conditional(m, ifNoneMatch)
	}

	res, err := s.Results.GetByJobID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Status says completed but the row is missing; report pending
			// rather than erroring, the write may still be settling.
			m := map[string]any{"id": id, "status": string(domain.JobProcessing)}
			return conditional(m, ifNoneMatch)
		}
		return http.StatusInternalServerError, nil, "", err
	}

	m := map[string]any{
		"id":     id,
		"status": string(status),
		"result": resultBody(res),
	}
	return conditional(m, ifNoneMatch)
}

func resultBody(res domain.ScoringResult) map[string]any {
	body := map[string]any{
		"overallScore":      res.OverallScore,
		"performanceLevel":  scoring.PerformanceLevel(res.OverallScore),
		"scoreBand":         scoring.BandLabel(res.OverallScore),
		"rubricScores":      res.Rubric,
		"topicRelevance":    res.TopicRelevance,
		"feedback":          res.Feedback,
		"suggestions":       res.Suggestions,
		"highlightedErrors": res.HighlightedErrors,
		"modelId":           res.ModelID,
	}
	if res.ErrorStatus != "" {
		body["errorStatus"] = res.ErrorStatus
		body["failureReason"] = res.FailureReason
	}
	return body
}

func conditional(m map[string]any, ifNoneMatch string) (int, map[string]any, string, error) {
	etag := makeETag(m)
	if etag == ifNoneMatch {
		return http.StatusNotModified, nil, etag, nil
	}
	return http.StatusOK, m, etag, nil
}

func makeETag(v any) string {
	b, _ := json.Marshal(v)
	s := sha256.Sum256(b)
	return hex.EncodeToString(s[:])
}
