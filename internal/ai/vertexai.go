package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type VertexAIClient struct {
	config *ClientConfig
	client *genai.Client
}

// NewVertexAIClient creates a client for Vertex AI or, when the provider is
// gemini, for the public Gemini API authenticated by API key.
func NewVertexAIClient(ctx context.Context, config *ClientConfig) (*VertexAIClient, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	backend := genai.BackendVertexAI
	if config.Provider == ProviderGemini {
		backend = genai.BackendGeminiAPI
	}

	if config.EmbedModel == "" {
		if backend == genai.BackendGeminiAPI {
			config.EmbedModel = "text-embedding-004"
		} else {
			config.EmbedModel = "text-embedding-005"
		}
	}
	if config.SummaryModel == "" {
		config.SummaryModel = "gemini-2.0-flash"
	}
	if config.Dim == 0 {
		config.Dim = 768
	}
	if backend == genai.BackendVertexAI && config.Location == "" && strings.TrimSpace(config.APIKey) == "" {
		config.Location = "us-central1"
	}

	cc := genai.ClientConfig{
		Backend: backend,
	}
	if strings.TrimSpace(config.APIKey) != "" {
		cc.APIKey = config.APIKey
	}
	if backend == genai.BackendVertexAI {
		if strings.TrimSpace(config.ProjectID) != "" {
			cc.Project = config.ProjectID
		}
		if strings.TrimSpace(config.Location) != "" {
			cc.Location = config.Location
		}
	}

	client, err := genai.NewClient(ctx, &cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &VertexAIClient{
		config: config,
		client: client,
	}, nil
}

// Embed implements the embedding functionality using the Gemini API
func (c *VertexAIClient) Embed(ctx context.Context, text string, task TaskType) ([]float32, error) {
	res, err := c.client.Models.EmbedContent(ctx, c.config.EmbedModel, genai.Text(text), c.embedConfig(task))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if res == nil || len(res.Embeddings) == 0 || res.Embeddings[0] == nil {
		return nil, fmt.Errorf("%w: no embedding returned", ErrEmbedding)
	}

	vec := res.Embeddings[0].Values
	if c.config.Dim > 0 && len(vec) != c.config.Dim {
		return nil, fmt.Errorf("%w: model returned %d dimensions, index expects %d", ErrEmbedding, len(vec), c.config.Dim)
	}
	return vec, nil
}

// embedConfig asks the model for vectors of the configured size so they fit
// the vector(dim) column.
func (c *VertexAIClient) embedConfig(task TaskType) *genai.EmbedContentConfig {
	if task == "" {
		task = TaskDocument
	}
	cfg := &genai.EmbedContentConfig{
		TaskType: string(task),
	}
	if c.config.Dim > 0 {
		cfg.OutputDimensionality = genai.Ptr(int32(c.config.Dim))
	}
	return cfg
}

// Generate implements free-form generation. Blocked or empty candidates come
// back as an empty string without error.
func (c *VertexAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	temp := float32(0.2)
	cfg := genai.GenerateContentConfig{
		Temperature: &temp,
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.config.SummaryModel, genai.Text(prompt), &cfg)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		sb.WriteString(part.Text)
	}
	return strings.TrimSpace(sb.String()), nil
}

func (c *VertexAIClient) Dim() int {
	return c.config.Dim
}
