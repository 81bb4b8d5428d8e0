package redpanda

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	aiadapter "github.com/fairyhunter13/ai-essay-grader/internal/adapter/ai"
	"github.com/fairyhunter13/ai-essay-grader/internal/adapter/observability"
	"github.com/fairyhunter13/ai-essay-grader/internal/domain"
	obs "github.com/fairyhunter13/ai-essay-grader/internal/observability"
	"github.com/fairyhunter13/ai-essay-grader/internal/rag"
	"github.com/fairyhunter13/ai-essay-grader/internal/scoring"
)

// ScoringHandler drives one essay job end to end: status transitions,
// retrieval, prompt composition, inference, parsing, calibration, and
// persistence. Every failure after inbound validation degrades to a
// zero-score fallback result; only a failure to persist that fallback
// escapes to the transport for redelivery.
type ScoringHandler struct {
	jobs      domain.JobRepository
	results   domain.ResultRepository
	corpus    domain.CorpusRepository
	ai        domain.AIClient
	retriever *rag.Retriever
	composer  *aiadapter.Composer
	cal       *scoring.Calibrator
	storageCB *obs.CircuitBreaker

	modelID            string
	chatMaxTokens      int
	jobTimeout         time.Duration
	minErrors          int
	coverageTarget     float64
	promotionThreshold int
}

// ScoringHandlerConfig bundles the knobs the handler needs.
type ScoringHandlerConfig struct {
	ModelID            string
	ChatMaxTokens      int
	JobTimeout         time.Duration
	MinErrors          int
	CoverageTarget     float64
	PromotionThreshold int
}

func NewScoringHandler(
	jobs domain.JobRepository,
	results domain.ResultRepository,
	corpus domain.CorpusRepository,
	ai domain.AIClient,
	retriever *rag.Retriever,
	composer *aiadapter.Composer,
	cal *scoring.Calibrator,
	storageCB *obs.CircuitBreaker,
	cfg ScoringHandlerConfig,
) *ScoringHandler {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	if cfg.MinErrors <= 0 {
		cfg.MinErrors = 5
	}
	if cfg.CoverageTarget <= 0 {
		cfg.CoverageTarget = 0.80
	}
	return &ScoringHandler{
		jobs:               jobs,
		results:            results,
		corpus:             corpus,
		ai:                 ai,
		retriever:          retriever,
		composer:           composer,
		cal:                cal,
		storageCB:          storageCB,
		modelID:            cfg.ModelID,
		chatMaxTokens:      cfg.ChatMaxTokens,
		jobTimeout:         cfg.JobTimeout,
		minErrors:          cfg.MinErrors,
		coverageTarget:     cfg.CoverageTarget,
		promotionThreshold: cfg.PromotionThreshold,
	}
}

// Handle processes one scoring task. The returned error is non-nil only
// when the job must be redelivered (fallback persistence failed); every
// other outcome is terminal.
func (h *ScoringHandler) Handle(ctx context.Context, payload domain.ScoreTaskPayload) error {
	tracer := otel.Tracer("queue.scoring")
	ctx, span := tracer.Start(ctx, "ScoringHandler.Handle")
	defer span.End()

	if err := validatePayload(payload); err != nil {
		slog.Error("invalid score task, failing fast", slog.String("job_id", payload.JobID), slog.Any("error", err))
		if payload.JobID != "" {
			msg := err.Error()
			_ = h.jobs.UpdateStatus(ctx, payload.JobID, domain.JobFailed, &msg)
		}
		observability.FailJob("score")
		// Malformed input is permanent; redelivery cannot fix it.
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, h.jobTimeout)
	defer cancel()

	observability.StartProcessingJob("score")
	if err := h.jobs.UpdateStatus(ctx, payload.JobID, domain.JobProcessing, nil); err != nil {
		slog.Error("failed to mark job processing", slog.String("job_id", payload.JobID), slog.Any("error", err))
		observability.FailJob("score")
		return fmt.Errorf("update status processing: %w", err)
	}

	job := domain.EssayJob{
		ID:        payload.JobID,
		Topic:     payload.Topic,
		Content:   payload.Content,
		WordCount: payload.WordCount,
		UserID:    payload.UserID,
	}

	analysis, err := h.analyze(ctx, job)
	if err != nil {
		slog.Warn("analysis failed, building fallback result",
			slog.String("job_id", job.ID), slog.Any("error", err))
		return h.completeWithFallback(ctx, job, err.Error())
	}
	if analysis.Status == domain.AnalysisFailed {
		return h.completeWithFallback(ctx, job, analysis.FailureReason)
	}
	if analysis.PartiallyRecovered {
		observability.PartialRecoveriesTotal.Inc()
	}

	analysis.HighlightedErrors = scoring.EnhanceErrors(job.Content, analysis.HighlightedErrors, h.minErrors, h.coverageTarget)
	result := h.cal.Calibrate(job, analysis, h.modelID)

	if err := h.persistResult(ctx, result); err != nil {
		slog.Error("failed to persist calibrated result, falling back",
			slog.String("job_id", job.ID), slog.Any("error", err))
		return h.completeWithFallback(ctx, job, "result persistence failed")
	}
	if err := h.jobs.UpdateStatus(ctx, job.ID, domain.JobCompleted, nil); err != nil {
		slog.Error("failed to mark job completed", slog.String("job_id", job.ID), slog.Any("error", err))
		observability.FailJob("score")
		return fmt.Errorf("update status completed: %w", err)
	}
	observability.CompleteJob("score", "completed")

	h.maybePromote(ctx, job, result)

	slog.Info("job scored",
		slog.String("job_id", job.ID),
		slog.Int("overall", result.OverallScore),
		slog.String("status", string(domain.JobCompleted)))
	return nil
}

// analyze runs retrieval, composition, inference, and parsing. It returns
// an error for infrastructure failures; parse-level failures come back as
// an AnalysisFailed result instead.
func (h *ScoringHandler) analyze(ctx context.Context, job domain.EssayJob) (domain.ModelAnalysis, error) {
	retrieval := h.retriever.BuildContext(ctx, job.Topic, job.Content)
	prompt := h.composer.Compose(job.Topic, job.Content, job.WordCount, retrieval.Exemplars)

	raw, err := h.ai.ChatJSON(ctx, aiadapter.SystemPrompt, prompt, h.chatMaxTokens)
	if err != nil {
		return domain.ModelAnalysis{}, fmt.Errorf("inference: %w", err)
	}
	return aiadapter.ParseScoringResponse(raw), nil
}

// completeWithFallback persists the zero-score fallback and marks the job
// completed_with_fallback. Only persistence failure here returns an error,
// which leaves the job to transport redelivery.
func (h *ScoringHandler) completeWithFallback(ctx context.Context, job domain.EssayJob, reason string) error {
	result := scoring.FallbackResult(job, reason, h.modelID)

	if err := h.persistResult(ctx, result); err != nil {
		slog.Error("fallback persistence failed, leaving job for redelivery",
			slog.String("job_id", job.ID), slog.Any("error", err))
		msg := "fallback persistence failed: " + err.Error()
		_ = h.jobs.UpdateStatus(ctx, job.ID, domain.JobFailed, &msg)
		observability.FailJob("score")
		return fmt.Errorf("%w: persist fallback: %s", domain.ErrPersistence, err)
	}

	msg := reason
	if err := h.jobs.UpdateStatus(ctx, job.ID, domain.JobCompletedWithFallback, &msg); err != nil {
		slog.Error("failed to mark job completed_with_fallback",
			slog.String("job_id", job.ID), slog.Any("error", err))
		observability.FailJob("score")
		return fmt.Errorf("update status fallback: %w", err)
	}

	observability.FallbackResultsTotal.Inc()
	observability.CompleteJob("score", "completed_with_fallback")
	slog.Info("job completed with fallback result",
		slog.String("job_id", job.ID), slog.String("reason", reason))
	return nil
}

// persistResult writes through the storage circuit breaker when one is
// configured.
func (h *ScoringHandler) persistResult(ctx context.Context, result domain.ScoringResult) error {
	if h.storageCB == nil {
		return h.results.Upsert(ctx, result)
	}
	return h.storageCB.Execute(func() error {
		return h.results.Upsert(ctx, result)
	})
}

// maybePromote submits a high-scoring essay into the reference corpus.
// Strictly best-effort: failures are logged and never affect job status.
func (h *ScoringHandler) maybePromote(ctx context.Context, job domain.EssayJob, result domain.ScoringResult) {
	if h.promotionThreshold <= 0 || result.OverallScore < h.promotionThreshold || result.ErrorStatus != "" {
		return
	}

	exemplar := domain.Exemplar{
		Topic:         job.Topic,
		Text:          job.Content,
		WordCount:     job.WordCount,
		OfficialScore: result.OverallScore,
		Breakdown:     result.Rubric,
	}
	if vecs, err := h.ai.Embed(ctx, []string{rag.QueryText(job.Topic, job.Content)}); err == nil && len(vecs) == 1 {
		exemplar.Embedding = vecs[0]
	} else if err != nil {
		slog.Warn("promotion embedding failed", slog.String("job_id", job.ID), slog.Any("error", err))
	}

	if err := h.corpus.Put(ctx, exemplar); err != nil {
		slog.Warn("corpus promotion failed", slog.String("job_id", job.ID), slog.Any("error", err))
		return
	}
	slog.Info("essay promoted to reference corpus",
		slog.String("job_id", job.ID), slog.Int("score", result.OverallScore))
}

func validatePayload(p domain.ScoreTaskPayload) error {
	switch {
	case p.JobID == "":
		return fmt.Errorf("%w: missing job id", domain.ErrInvalidArgument)
	case p.Topic == "":
		return fmt.Errorf("%w: missing topic", domain.ErrInvalidArgument)
	case p.Content == "":
		return fmt.Errorf("%w: missing content", domain.ErrInvalidArgument)
	case p.WordCount <= 0:
		return fmt.Errorf("%w: missing word count", domain.ErrInvalidArgument)
	}
	return nil
}
