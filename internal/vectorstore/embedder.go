package vectorstore

import (
	"fmt"

	"chat-vectorsync/internal/config"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// NewOpenAIEmbedder creates an embedder for an OpenAI-compatible endpoint
func NewOpenAIEmbedder(cfg config.EmbeddingConfig) (embeddings.Embedder, error) {
	token := cfg.Token
	if token == "" {
		// Local OpenAI-compatible services ignore the token but the client requires one
		token = "none"
	}

	client, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(token),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return embedder, nil
}
