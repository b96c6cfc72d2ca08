// Package llm provides an OpenAI-compatible embeddings client and the call
// guards (circuit breaker, bounded worker pool) used around it.
package llm

import (
	"context"
)

// EmbeddingClient defines the embedding operations the encoder depends on.
// Use this interface for dependency injection to enable mocking in tests.
type EmbeddingClient interface {
	// CreateEmbedding generates an embedding vector for the input text.
	CreateEmbedding(ctx context.Context, input string) ([]float32, error)

	// CreateEmbeddings generates embeddings for multiple inputs, in input order.
	CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error)

	// GetModel returns the configured model name.
	GetModel() string

	// GetEndpoint returns the configured endpoint.
	GetEndpoint() string
}

// Ensure Client implements EmbeddingClient at compile time.
var _ EmbeddingClient = (*Client)(nil)
