package llm

import (
	"context"
	"sync"
)

// MockEmbeddingClient is a configurable mock for testing embedding consumers.
// Set the function fields to control behavior in tests.
type MockEmbeddingClient struct {
	// CreateEmbeddingsFunc is called by both CreateEmbedding and CreateEmbeddings.
	// If nil, returns nil slice and nil error.
	CreateEmbeddingsFunc func(ctx context.Context, inputs []string) ([][]float32, error)

	// Model is returned by GetModel. Defaults to "mock-model".
	Model string

	// Endpoint is returned by GetEndpoint. Defaults to "http://mock-endpoint".
	Endpoint string

	mu     sync.Mutex
	calls  int
	inputs []string
}

// NewMockEmbeddingClient creates a new mock with sensible defaults.
func NewMockEmbeddingClient() *MockEmbeddingClient {
	return &MockEmbeddingClient{
		Model:    "mock-model",
		Endpoint: "http://mock-endpoint",
	}
}

// CreateEmbedding implements EmbeddingClient.
func (m *MockEmbeddingClient) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	out, err := m.CreateEmbeddings(ctx, []string{input})
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return out[0], nil
}

// CreateEmbeddings implements EmbeddingClient.
func (m *MockEmbeddingClient) CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	m.mu.Lock()
	m.calls++
	m.inputs = append(m.inputs, inputs...)
	m.mu.Unlock()

	if m.CreateEmbeddingsFunc != nil {
		return m.CreateEmbeddingsFunc(ctx, inputs)
	}
	return nil, nil
}

// GetModel implements EmbeddingClient.
func (m *MockEmbeddingClient) GetModel() string {
	if m.Model == "" {
		return "mock-model"
	}
	return m.Model
}

// GetEndpoint implements EmbeddingClient.
func (m *MockEmbeddingClient) GetEndpoint() string {
	if m.Endpoint == "" {
		return "http://mock-endpoint"
	}
	return m.Endpoint
}

// Calls returns how many backend requests were made.
func (m *MockEmbeddingClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Inputs returns every text sent to the backend, in call order.
func (m *MockEmbeddingClient) Inputs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.inputs...)
}

var _ EmbeddingClient = (*MockEmbeddingClient)(nil)
