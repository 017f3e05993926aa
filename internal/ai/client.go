package ai

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
)

var (
	// ErrEmbedding marks failures of the embedding backend.
	ErrEmbedding = errors.New("embedding failed")
	// ErrGeneration marks failures of the generative backend.
	ErrGeneration = errors.New("generation failed")
)

// TaskType tells the embedding backend what the text is used for.
type TaskType string

const (
	TaskDocument TaskType = "RETRIEVAL_DOCUMENT"
	TaskQuery    TaskType = "RETRIEVAL_QUERY"
)

// Client provides both embedding and text generation capabilities
type Client interface {
	Embed(ctx context.Context, text string, task TaskType) ([]float32, error)
	Generate(ctx context.Context, prompt string) (string, error)
	Dim() int
}

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderVertexAI Provider = "vertexai"
	ProviderGemini   Provider = "gemini"
	ProviderStub     Provider = "stub"
)

// ClientConfig holds configuration for AI clients
type ClientConfig struct {
	APIKey       string
	EmbedModel   string
	SummaryModel string
	Dim          int
	ProjectID    string
	Provider     Provider
	Location     string
	BaseURL      string
}

// ParseProvider maps a configured provider name onto a Provider.
func ParseProvider(s string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai":
		return ProviderOpenAI, nil
	case "vertexai", "vertex":
		return ProviderVertexAI, nil
	case "gemini", "google":
		return ProviderGemini, nil
	case "stub", "":
		return ProviderStub, nil
	default:
		return "", errors.New("unsupported provider: " + s)
	}
}

// NewClient creates a new AI client based on configuration
func NewClient(ctx context.Context, config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderVertexAI, ProviderGemini:
		return NewVertexAIClient(ctx, config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// StubClient is an offline implementation of the Client interface. Embeddings
// are hashed bags of words so that similar texts land close to each other.
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	if dim <= 0 {
		dim = 64
	}
	return &StubClient{dim: dim}
}

// Embed implements the embedding functionality
func (s *StubClient) Embed(ctx context.Context, text string, task TaskType) ([]float32, error) {
	vec := make([]float32, s.dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%uint32(s.dim)]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec, nil
}

// Generate returns a short heuristic answer built from the prompt itself.
func (s *StubClient) Generate(ctx context.Context, prompt string) (string, error) {
	lines := strings.Split(strings.TrimSpace(prompt), "\n")
	for _, line := range lines[:min(5, len(lines))] {
		line = strings.TrimSpace(line)
		if len(line) > 10 {
			return "- " + truncate(line, 240), nil
		}
	}
	return "- no content", nil
}

// Dim returns the embedding dimension
func (s *StubClient) Dim() int {
	return s.dim
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
