// Package domain defines the core entities, ports, and error taxonomy for
// the essay scoring pipeline.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrRateLimited          = errors.New("rate limited")
	ErrUpstreamTimeout      = errors.New("upstream timeout")
	ErrUpstreamRateLimit    = errors.New("upstream rate limit")
	ErrInferenceUnavailable = errors.New("inference unavailable")
	ErrParseFailed          = errors.New("parse failed")
	ErrSchemaInvalid        = errors.New("schema invalid")
	ErrPersistence          = errors.New("persistence failure")
	ErrInternal             = errors.New("internal error")
)

// JobStatus tracks an essay job through the pipeline state machine.
type JobStatus string

const (
	JobReceived              JobStatus = "received"
	JobProcessing            JobStatus = "processing"
	JobCompleted             JobStatus = "completed"
	JobCompletedWithFallback JobStatus = "completed_with_fallback"
	JobFailed                JobStatus = "failed"
)

// EssayJob is a queued essay submission. Immutable once dequeued; the
// pipeline only consumes it and records a terminal outcome elsewhere.
type EssayJob struct {
	ID         string
	Topic      string
	Content    string
	WordCount  int
	UserID     string
	EnqueuedAt time.Time
}

// RubricScores holds the per-criterion raw points.
// Invariants: content in [0,3]; spelling in [0,1]; all others in [0,2].
type RubricScores struct {
	Content              int `json:"content"`
	Form                 int `json:"form"`
	Grammar              int `json:"grammar"`
	Vocabulary           int `json:"vocabulary"`
	Spelling             int `json:"spelling"`
	DevelopmentCoherence int `json:"developmentCoherence"`
	LinguisticRange      int `json:"linguisticRange"`
}

// RawTotal sums the per-criterion points.
func (r RubricScores) RawTotal() int {
	return r.Content + r.Form + r.Grammar + r.Vocabulary + r.Spelling + r.DevelopmentCoherence + r.LinguisticRange
}

// RubricMaxTotal is the maximum achievable raw total across all criteria.
const RubricMaxTotal = 14

// Per-criterion maxima.
const (
	MaxContent              = 3
	MaxForm                 = 2
	MaxGrammar              = 2
	MaxVocabulary           = 2
	MaxSpelling             = 1
	MaxDevelopmentCoherence = 2
	MaxLinguisticRange      = 2
)

// OverallScoreMax is the top of the scaled score band.
const OverallScoreMax = 90

// TopicRelevance is the model's judgement of how well the essay addresses
// the assigned topic.
type TopicRelevance struct {
	IsOnTopic      bool   `json:"isOnTopic"`
	RelevanceScore int    `json:"relevanceScore"` // [0,100]
	Explanation    string `json:"explanation"`
}

// ErrorType classifies a highlighted error span.
type ErrorType string

const (
	ErrorGrammar    ErrorType = "grammar"
	ErrorVocabulary ErrorType = "vocabulary"
	ErrorCoherence  ErrorType = "coherence"
	ErrorSpelling   ErrorType = "spelling"
)

// HighlightedError marks a span of the essay with a correction.
// StartIndex/EndIndex are byte offsets into the essay content; invariant:
// Content[StartIndex:EndIndex] == Text after calibration.
type HighlightedError struct {
	Text        string    `json:"text"`
	Type        ErrorType `json:"type"`
	Suggestion  string    `json:"suggestion"`
	Explanation string    `json:"explanation,omitempty"`
	StartIndex  int       `json:"startIndex"`
	EndIndex    int       `json:"endIndex"`
}

// Feedback carries the narrative portion of a scoring result.
type Feedback struct {
	Summary      string            `json:"summary"`
	Strengths    []string          `json:"strengths"`
	Improvements []string          `json:"improvements"`
	PerCriterion map[string]string `json:"perCriterion,omitempty"`
}

// AnalysisStatus describes how the model analysis concluded.
type AnalysisStatus string

const (
	AnalysisOK      AnalysisStatus = "ok"
	AnalysisPartial AnalysisStatus = "partial"
	AnalysisFailed  AnalysisStatus = "failed"
)

// ModelAnalysis is the parsed projection of a raw model response. The raw
// text itself is never persisted.
type ModelAnalysis struct {
	TopicRelevance     TopicRelevance
	Rubric             RubricScores
	Feedback           Feedback
	Suggestions        []string
	HighlightedErrors  []HighlightedError
	Status             AnalysisStatus
	PartiallyRecovered bool
	FailureReason      string
}

// ErrorStatusAnalysisFailed marks a fallback result: all rubric scores are
// zero and the overall score reflects no genuine analysis.
const ErrorStatusAnalysisFailed = "analysis_failed"

// ScoringResult is the final, always-present outcome for a job. Created
// once, immutable after creation.
// Invariant: OverallScore in [0, OverallScoreMax]; when ErrorStatus is
// ErrorStatusAnalysisFailed all rubric scores are zero.
type ScoringResult struct {
	JobID             string
	Rubric            RubricScores
	OverallScore      int
	TopicRelevance    TopicRelevance
	Feedback          Feedback
	Suggestions       []string
	HighlightedErrors []HighlightedError
	ErrorStatus       string
	FailureReason     string
	ModelID           string
	CreatedAt         time.Time
}

// Exemplar is a reference-corpus essay with an official score breakdown,
// used to ground the evaluation prompt. Ephemeral outside the corpus store.
type Exemplar struct {
	ID            string
	Topic         string
	Category      string
	Text          string
	WordCount     int
	OfficialScore int
	Breakdown     RubricScores
	Strengths     []string
	Weaknesses    []string
	Embedding     []float32
	Similarity    float64
}

// Repositories (ports)

type JobRepository interface {
	Create(ctx Context, j EssayJob) (string, error)
	Get(ctx Context, id string) (EssayJob, error)
	UpdateStatus(ctx Context, id string, status JobStatus, errMsg *string) error
	GetStatus(ctx Context, id string) (JobStatus, error)
}

type ResultRepository interface {
	Upsert(ctx Context, r ScoringResult) error
	GetByJobID(ctx Context, jobID string) (ScoringResult, error)
}

// CorpusRepository is the reference corpus store. ListWithEmbeddings backs
// vector retrieval; FindByTopic backs the exact-match fallback; Put is the
// best-effort promotion path for high-scoring essays.
type CorpusRepository interface {
	ListWithEmbeddings(ctx Context, limit int) ([]Exemplar, error)
	FindByTopic(ctx Context, topic string, limit int) ([]Exemplar, error)
	Put(ctx Context, e Exemplar) error
}

// Queue (port)

type Queue interface {
	EnqueueScore(ctx Context, payload ScoreTaskPayload) (string, error)
}

// AIClient (port)

type AIClient interface {
	// Embed returns one embedding vector per input text.
	Embed(ctx Context, texts []string) ([][]float32, error)
	// ChatJSON asks the model for a single JSON object and returns the raw
	// response text; extraction and validation happen in the parser.
	ChatJSON(ctx Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
}

// ScoreTaskPayload is the queue message for one essay scoring job.
type ScoreTaskPayload struct {
	JobID     string `json:"job_id"`
	Topic     string `json:"topic"`
	Content   string `json:"content"`
	WordCount int    `json:"word_count"`
	UserID    string `json:"user_id"`
}

// Context aliases context.Context so ports read uniformly; adapters pass
// standard contexts through.
type Context = context.Context
