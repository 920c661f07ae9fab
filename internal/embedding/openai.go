package embedding

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI embeds text through any OpenAI-compatible API (OpenAI, Ollama,
// vLLM, LM Studio).
type OpenAI struct {
	api   *openai.Client
	model string
}

// NewOpenAI creates a new OpenAI-compatible embedding client.
func NewOpenAI(baseURL, apiKey, modelName string) *OpenAI {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAI{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

func (c *OpenAI) Name() string { return ProviderOpenAI }

// Ping checks that the API is reachable by listing models.
func (c *OpenAI) Ping(ctx context.Context) error {
	_, err := c.api.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("embedding API ping: %w", err)
	}
	return nil
}

// Embed returns the embedding of text.
func (c *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding API call: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding API returned no vectors")
	}
	return resp.Data[0].Embedding, nil
}
