package redpanda

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aiadapter "github.com/fairyhunter13/ai-essay-grader/internal/adapter/ai"
	"github.com/fairyhunter13/ai-essay-grader/internal/domain"
	"github.com/fairyhunter13/ai-essay-grader/internal/rag"
	"github.com/fairyhunter13/ai-essay-grader/internal/scoring"
)

type jobsStub struct {
	mu       sync.Mutex
	statuses map[string]domain.JobStatus
	errs     map[string]string
	failOn   map[domain.JobStatus]error
}

func newJobsStub() *jobsStub {
	return &jobsStub{
		statuses: map[string]domain.JobStatus{},
		errs:     map[string]string{},
		failOn:   map[domain.JobStatus]error{},
	}
}

func (s *jobsStub) Create(_ domain.Context, job domain.EssayJob) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[job.ID] = domain.JobReceived
	return job.ID, nil
}

func (s *jobsStub) Get(_ domain.Context, id string) (domain.EssayJob, error) {
	return domain.EssayJob{ID: id}, nil
}

func (s *jobsStub) UpdateStatus(_ domain.Context, id string, status domain.JobStatus, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failOn[status]; ok {
		return err
	}
	s.statuses[id] = status
	if errMsg != nil {
		s.errs[id] = *errMsg
	}
	return nil
}

func (s *jobsStub) GetStatus(_ domain.Context, id string) (domain.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[id]
	if !ok {
		return "", domain.ErrNotFound
	}
	return st, nil
}

func (s *jobsStub) status(id string) domain.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[id]
}

type resultsStub struct {
	mu      sync.Mutex
	saved   map[string]domain.ScoringResult
	failAll bool
}

func newResultsStub() *resultsStub {
	return &resultsStub{saved: map[string]domain.ScoringResult{}}
}

func (s *resultsStub) Upsert(_ domain.Context, r domain.ScoringResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return fmt.Errorf("%w: db down", domain.ErrPersistence)
	}
	s.saved[r.JobID] = r
	return nil
}

func (s *resultsStub) GetByJobID(_ domain.Context, jobID string) (domain.ScoringResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.saved[jobID]
	if !ok {
		return domain.ScoringResult{}, domain.ErrNotFound
	}
	return r, nil
}

type corpusStub struct {
	mu        sync.Mutex
	exemplars []domain.Exemplar
	put       []domain.Exemplar
}

func (s *corpusStub) ListWithEmbeddings(_ domain.Context, limit int) ([]domain.Exemplar, error) {
	return s.exemplars, nil
}

func (s *corpusStub) FindByTopic(_ domain.Context, topic string, limit int) ([]domain.Exemplar, error) {
	return nil, nil
}

func (s *corpusStub) Put(_ domain.Context, e domain.Exemplar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put = append(s.put, e)
	return nil
}

type aiStub struct {
	chatResp string
	chatErr  error
	embedErr error
}

func (s *aiStub) Embed(_ domain.Context, texts []string) ([][]float32, error) {
	if s.embedErr != nil {
		return nil, s.embedErr
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (s *aiStub) ChatJSON(_ domain.Context, system, user string, maxTokens int) (string, error) {
	if s.chatErr != nil {
		return "", s.chatErr
	}
	return s.chatResp, nil
}

func defaultThresholds() scoring.Thresholds {
	return scoring.Thresholds{
		RelevanceFullCredit:    90,
		RelevancePartial:       70,
		RelevanceMinimal:       50,
		OffTopicOverallCap:     25,
		PartialTopicOverallCap: 65,
		WordCountMin:           200,
		WordCountMax:           300,
	}
}

func newTestHandler(jobs *jobsStub, results *resultsStub, corpus *corpusStub, ai domain.AIClient) *ScoringHandler {
	retriever := rag.NewRetriever(corpus, ai, rag.Options{})
	composer := aiadapter.NewComposer("gpt-4", 0)
	cal := scoring.NewCalibrator(defaultThresholds(), scoring.NewDistributionWindow(100, 0.15))
	return NewScoringHandler(jobs, results, corpus, ai, retriever, composer, cal, nil, ScoringHandlerConfig{
		ModelID:            "test-model",
		ChatMaxTokens:      2000,
		JobTimeout:         time.Minute,
		PromotionThreshold: 85,
	})
}

func scoringResponse(relevance int, onTopic bool, r domain.RubricScores) string {
	return fmt.Sprintf(`{
		"topicRelevance": {"isOnTopic": %t, "relevanceScore": %d, "explanation": "judged"},
		"rubricScores": {"content": %d, "form": %d, "grammar": %d, "vocabulary": %d, "spelling": %d, "developmentCoherence": %d, "linguisticRange": %d},
		"feedback": {"summary": "assessed", "strengths": ["clear"], "improvements": ["variety"]},
		"suggestions": ["vary sentence openings"],
		"highlightedErrors": []
	}`, onTopic, relevance, r.Content, r.Form, r.Grammar, r.Vocabulary, r.Spelling, r.DevelopmentCoherence, r.LinguisticRange)
}

func testPayload(wordCount int) domain.ScoreTaskPayload {
	return domain.ScoreTaskPayload{
		JobID:     "job-1",
		Topic:     "Should university education be free for everyone",
		Content:   strings.Repeat("Education shapes opportunity and society. ", 40),
		WordCount: wordCount,
		UserID:    "user-1",
	}
}

func TestHandleOnTopicMidEssay(t *testing.T) {
	jobs, results, corpus := newJobsStub(), newResultsStub(), &corpusStub{}
	ai := &aiStub{chatResp: scoringResponse(92, true, domain.RubricScores{
		Content: 2, Form: 2, Grammar: 1, Vocabulary: 2, Spelling: 1, DevelopmentCoherence: 1, LinguisticRange: 1,
	})}
	h := newTestHandler(jobs, results, corpus, ai)

	err := h.Handle(context.Background(), testPayload(240))
	require.NoError(t, err)

	assert.Equal(t, domain.JobCompleted, jobs.status("job-1"))
	got, err := results.GetByJobID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 64, got.OverallScore)
	assert.Empty(t, got.ErrorStatus)
	assert.Equal(t, "test-model", got.ModelID)
}

func TestHandleOffTopicEssayCapped(t *testing.T) {
	jobs, results, corpus := newJobsStub(), newResultsStub(), &corpusStub{}
	ai := &aiStub{chatResp: scoringResponse(30, false, domain.RubricScores{
		Content: 3, Form: 2, Grammar: 2, Vocabulary: 2, Spelling: 1, DevelopmentCoherence: 2, LinguisticRange: 2,
	})}
	h := newTestHandler(jobs, results, corpus, ai)

	err := h.Handle(context.Background(), testPayload(240))
	require.NoError(t, err)

	assert.Equal(t, domain.JobCompleted, jobs.status("job-1"))
	got, err := results.GetByJobID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Rubric.Content)
	assert.Equal(t, 25, got.OverallScore)
	assert.Empty(t, got.ErrorStatus)
}

func TestHandleInferenceFailureFallsBack(t *testing.T) {
	jobs, results, corpus := newJobsStub(), newResultsStub(), &corpusStub{}
	ai := &aiStub{
		chatErr:  fmt.Errorf("%w: provider outage", domain.ErrInferenceUnavailable),
		embedErr: fmt.Errorf("embeddings down"),
	}
	h := newTestHandler(jobs, results, corpus, ai)

	err := h.Handle(context.Background(), testPayload(240))
	require.NoError(t, err)

	assert.Equal(t, domain.JobCompletedWithFallback, jobs.status("job-1"))
	got, err := results.GetByJobID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.OverallScore)
	assert.Equal(t, domain.RubricScores{}, got.Rubric)
	assert.Equal(t, domain.ErrorStatusAnalysisFailed, got.ErrorStatus)
	assert.Contains(t, got.FailureReason, "provider outage")
}

func TestHandleGarbageResponseFallsBack(t *testing.T) {
	jobs, results, corpus := newJobsStub(), newResultsStub(), &corpusStub{}
	ai := &aiStub{chatResp: "I cannot score this essay right now, sorry."}
	h := newTestHandler(jobs, results, corpus, ai)

	err := h.Handle(context.Background(), testPayload(240))
	require.NoError(t, err)

	assert.Equal(t, domain.JobCompletedWithFallback, jobs.status("job-1"))
	got, err := results.GetByJobID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.OverallScore)
	assert.Equal(t, domain.ErrorStatusAnalysisFailed, got.ErrorStatus)
}

func TestHandleShortEssayWordPenalty(t *testing.T) {
	jobs, results, corpus := newJobsStub(), newResultsStub(), &corpusStub{}
	ai := &aiStub{chatResp: scoringResponse(95, true, domain.RubricScores{
		Content: 3, Form: 2, Grammar: 2, Vocabulary: 2, Spelling: 1, DevelopmentCoherence: 2, LinguisticRange: 2,
	})}
	h := newTestHandler(jobs, results, corpus, ai)

	err := h.Handle(context.Background(), testPayload(150))
	require.NoError(t, err)

	got, err := results.GetByJobID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Rubric.Form)
	assert.Equal(t, 84, got.OverallScore)
}

func TestHandlePromotesHighScorer(t *testing.T) {
	jobs, results, corpus := newJobsStub(), newResultsStub(), &corpusStub{}
	ai := &aiStub{chatResp: scoringResponse(95, true, domain.RubricScores{
		Content: 3, Form: 2, Grammar: 2, Vocabulary: 2, Spelling: 1, DevelopmentCoherence: 2, LinguisticRange: 2,
	})}
	h := newTestHandler(jobs, results, corpus, ai)

	err := h.Handle(context.Background(), testPayload(240))
	require.NoError(t, err)

	got, err := results.GetByJobID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 90, got.OverallScore)

	require.Len(t, corpus.put, 1)
	assert.Equal(t, 90, corpus.put[0].OfficialScore)
	assert.NotEmpty(t, corpus.put[0].Embedding)
}

func TestHandleNoPromotionBelowThreshold(t *testing.T) {
	jobs, results, corpus := newJobsStub(), newResultsStub(), &corpusStub{}
	ai := &aiStub{chatResp: scoringResponse(92, true, domain.RubricScores{
		Content: 2, Form: 2, Grammar: 1, Vocabulary: 2, Spelling: 1, DevelopmentCoherence: 1, LinguisticRange: 1,
	})}
	h := newTestHandler(jobs, results, corpus, ai)

	require.NoError(t, h.Handle(context.Background(), testPayload(240)))
	assert.Empty(t, corpus.put)
}

func TestHandleFallbackPersistenceFailureReturnsError(t *testing.T) {
	jobs, results, corpus := newJobsStub(), newResultsStub(), &corpusStub{}
	results.failAll = true
	ai := &aiStub{chatErr: fmt.Errorf("%w: provider outage", domain.ErrInferenceUnavailable), embedErr: fmt.Errorf("down")}
	h := newTestHandler(jobs, results, corpus, ai)

	err := h.Handle(context.Background(), testPayload(240))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Equal(t, domain.JobFailed, jobs.status("job-1"))
}

func TestHandleResultPersistenceFailureTriesFallback(t *testing.T) {
	// Primary persistence and fallback persistence share the store, so a
	// dead store ends in a redelivery-worthy error.
	jobs, results, corpus := newJobsStub(), newResultsStub(), &corpusStub{}
	results.failAll = true
	ai := &aiStub{chatResp: scoringResponse(92, true, domain.RubricScores{
		Content: 2, Form: 2, Grammar: 1, Vocabulary: 2, Spelling: 1, DevelopmentCoherence: 1, LinguisticRange: 1,
	})}
	h := newTestHandler(jobs, results, corpus, ai)

	err := h.Handle(context.Background(), testPayload(240))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPersistence)
}

func TestHandleInvalidPayloadFailsFast(t *testing.T) {
	jobs, results, corpus := newJobsStub(), newResultsStub(), &corpusStub{}
	h := newTestHandler(jobs, results, corpus, &aiStub{})

	payload := testPayload(240)
	payload.Content = ""
	err := h.Handle(context.Background(), payload)
	require.NoError(t, err)

	assert.Equal(t, domain.JobFailed, jobs.status("job-1"))
	_, gerr := results.GetByJobID(context.Background(), "job-1")
	assert.ErrorIs(t, gerr, domain.ErrNotFound)
}

func TestHandleProcessingUpdateFailureRedelivers(t *testing.T) {
	jobs, results, corpus := newJobsStub(), newResultsStub(), &corpusStub{}
	jobs.failOn[domain.JobProcessing] = fmt.Errorf("db timeout")
	h := newTestHandler(jobs, results, corpus, &aiStub{})

	err := h.Handle(context.Background(), testPayload(240))
	require.Error(t, err)
}

func TestValidatePayload(t *testing.T) {
	valid := testPayload(240)
	require.NoError(t, validatePayload(valid))

	cases := map[string]func(*domain.ScoreTaskPayload){
		"missing job id":  func(p *domain.ScoreTaskPayload) { p.JobID = "" },
		"missing topic":   func(p *domain.ScoreTaskPayload) { p.Topic = "" },
		"missing content": func(p *domain.ScoreTaskPayload) { p.Content = "" },
		"zero word count": func(p *domain.ScoreTaskPayload) { p.WordCount = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := testPayload(240)
			mutate(&p)
			assert.ErrorIs(t, validatePayload(p), domain.ErrInvalidArgument)
		})
	}
}
