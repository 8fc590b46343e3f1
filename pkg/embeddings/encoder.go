// Package embeddings provides the text embedding contract and the per-tenant
// embedding cache used by semantic matching
package embeddings

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// Encoder turns text into embedding vectors. Implementations must be
// batchable and deterministic for identical input text.
type Encoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
}

// OpenAIEncoder implements Encoder against an OpenAI-compatible API
type OpenAIEncoder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIEncoder creates a new OpenAI-backed encoder
func NewOpenAIEncoder(apiKey, model string) *OpenAIEncoder {
	embeddingModel := openai.SmallEmbedding3
	if model != "" {
		embeddingModel = openai.EmbeddingModel(model)
	}

	return &OpenAIEncoder{
		client: openai.NewClient(apiKey),
		model:  embeddingModel,
	}
}

// Encode generates embedding vectors for the given texts in one batch call
func (e *OpenAIEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: e.model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embeddings: %w", err)
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		vectors[i] = data.Embedding
	}

	return vectors, nil
}
