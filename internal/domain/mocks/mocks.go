// Package mocks provides testify mocks for the domain ports.
package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/fairyhunter13/ai-essay-grader/internal/domain"
)

// MockJobRepository is a mock implementation of domain.JobRepository.
type MockJobRepository struct{ mock.Mock }

func (m *MockJobRepository) Create(ctx domain.Context, j domain.EssayJob) (string, error) {
	args := m.Called(ctx, j)
	return args.String(0), args.Error(1)
}

func (m *MockJobRepository) Get(ctx domain.Context, id string) (domain.EssayJob, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.EssayJob), args.Error(1)
}

func (m *MockJobRepository) UpdateStatus(ctx domain.Context, id string, status domain.JobStatus, errMsg *string) error {
	args := m.Called(ctx, id, status, errMsg)
	return args.Error(0)
}

func (m *MockJobRepository) GetStatus(ctx domain.Context, id string) (domain.JobStatus, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.JobStatus), args.Error(1)
}

// MockResultRepository is a mock implementation of domain.ResultRepository.
type MockResultRepository struct{ mock.Mock }

func (m *MockResultRepository) Upsert(ctx domain.Context, r domain.ScoringResult) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockResultRepository) GetByJobID(ctx domain.Context, jobID string) (domain.ScoringResult, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(domain.ScoringResult), args.Error(1)
}

// MockCorpusRepository is a mock implementation of domain.CorpusRepository.
type MockCorpusRepository struct{ mock.Mock }

func (m *MockCorpusRepository) ListWithEmbeddings(ctx domain.Context, limit int) ([]domain.Exemplar, error) {
	args := m.Called(ctx, limit)
	if v := args.Get(0); v != nil {
		return v.([]domain.Exemplar), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCorpusRepository) FindByTopic(ctx domain.Context, topic string, limit int) ([]domain.Exemplar, error) {
	args := m.Called(ctx, topic, limit)
	if v := args.Get(0); v != nil {
		return v.([]domain.Exemplar), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCorpusRepository) Put(ctx domain.Context, e domain.Exemplar) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

// MockQueue is a mock implementation of domain.Queue.
type MockQueue struct{ mock.Mock }

func (m *MockQueue) EnqueueScore(ctx domain.Context, payload domain.ScoreTaskPayload) (string, error) {
	args := m.Called(ctx, payload)
	return args.String(0), args.Error(1)
}

// MockAIClient is a mock implementation of domain.AIClient.
type MockAIClient struct{ mock.Mock }

func (m *MockAIClient) Embed(ctx domain.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if v := args.Get(0); v != nil {
		return v.([][]float32), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAIClient) ChatJSON(ctx domain.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	args := m.Called(ctx, systemPrompt, userPrompt, maxTokens)
	return args.String(0), args.Error(1)
}
