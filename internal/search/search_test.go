package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/seanblong/docsearch/internal/ai"
	"github.com/seanblong/docsearch/internal/ingest"
	"github.com/seanblong/docsearch/internal/store"
	"github.com/seanblong/docsearch/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

const scoreSuffix = "Score (0-100):"

// MockAIClient implements the ai.Client interface for testing
type MockAIClient struct {
	EmbedFunc    func(ctx context.Context, text string, task ai.TaskType) ([]float32, error)
	GenerateFunc func(ctx context.Context, prompt string) (string, error)
	prompts      []string
}

func (m *MockAIClient) Embed(ctx context.Context, text string, task ai.TaskType) ([]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text, task)
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (m *MockAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	if !strings.HasSuffix(prompt, scoreSuffix) {
		m.prompts = append(m.prompts, prompt)
	}
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt)
	}
	if strings.HasSuffix(prompt, scoreSuffix) {
		return "50", nil
	}
	return "### summary", nil
}

func (m *MockAIClient) Dim() int { return 3 }

// MockStore implements store.ChunkStore for testing
type MockStore struct {
	SearchFunc func(ctx context.Context, vec []float32, k int) ([]models.ScoredHit, error)
	rows       models.ChunkRows
	lastK      int
}

func (m *MockStore) Migrate(ctx context.Context, dim int) error { return nil }

func (m *MockStore) Insert(ctx context.Context, rows models.ChunkRows) error {
	for i := range rows.IDs {
		m.rows.Append(models.IndexedChunk{
			ChunkID: rows.IDs[i], FileID: rows.FileIDs[i], Text: rows.Texts[i], Embedding: rows.Embeddings[i],
		})
	}
	return nil
}

func (m *MockStore) Search(ctx context.Context, vec []float32, k int) ([]models.ScoredHit, error) {
	m.lastK = k
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, vec, k)
	}
	return nil, nil
}

func (m *MockStore) ListFiles(ctx context.Context) ([]string, error)              { return nil, nil }
func (m *MockStore) DeleteFile(ctx context.Context, fileID string) (int64, error) { return 0, nil }
func (m *MockStore) IsProcessed(ctx context.Context, checksum string) (bool, error) {
	return false, nil
}
func (m *MockStore) MarkProcessed(ctx context.Context, checksum, fileID string) error { return nil }

var _ store.ChunkStore = (*MockStore)(nil)

func sampleHits() []models.ScoredHit {
	return []models.ScoredHit{
		{FileID: "A", ChunkID: "a1", Text: "alpha one", SimilarityScore: 0.1},
		{FileID: "B", ChunkID: "b1", Text: "beta one", SimilarityScore: 0.2},
		{FileID: "A", ChunkID: "a2", Text: "alpha two", SimilarityScore: 0.3},
	}
}

func TestService_Query(t *testing.T) {
	tests := []struct {
		name        string
		query       string
		mode        string
		client      *MockAIClient
		store       *MockStore
		expectedErr error
		check       func(t *testing.T, resp models.SearchResponse, c *MockAIClient)
	}{
		{
			name:   "conceptual summary over grouped chunks",
			query:  "  what is alpha  ",
			mode:   "conceptual",
			client: &MockAIClient{},
			store: &MockStore{SearchFunc: func(ctx context.Context, vec []float32, k int) ([]models.ScoredHit, error) {
				return sampleHits(), nil
			}},
			check: func(t *testing.T, resp models.SearchResponse, c *MockAIClient) {
				assert.Equal(t, "what is alpha", resp.Query)
				assert.Equal(t, "### summary", resp.Summary.Markdown)
				require.Len(t, c.prompts, 1)
				assert.Contains(t, c.prompts[0], "## Context")
				assert.Contains(t, c.prompts[0], "alpha two")
				assert.Len(t, resp.Results, 2)
			},
		},
		{
			name:   "keyword summary over raw hits",
			query:  "beta",
			mode:   "KEYWORD",
			client: &MockAIClient{},
			store: &MockStore{SearchFunc: func(ctx context.Context, vec []float32, k int) ([]models.ScoredHit, error) {
				return sampleHits(), nil
			}},
			check: func(t *testing.T, resp models.SearchResponse, c *MockAIClient) {
				require.Len(t, c.prompts, 1)
				assert.Contains(t, c.prompts[0], "## Relevant Chunks")
				assert.Contains(t, c.prompts[0], "beta one")
			},
		},
		{
			name:   "empty mode defaults to conceptual",
			query:  "alpha",
			client: &MockAIClient{},
			store: &MockStore{SearchFunc: func(ctx context.Context, vec []float32, k int) ([]models.ScoredHit, error) {
				return sampleHits(), nil
			}},
			check: func(t *testing.T, resp models.SearchResponse, c *MockAIClient) {
				require.Len(t, c.prompts, 1)
				assert.Contains(t, c.prompts[0], "## Markdown Answer")
			},
		},
		{
			name:        "invalid mode",
			query:       "alpha",
			mode:        "fuzzy",
			client:      &MockAIClient{},
			store:       &MockStore{},
			expectedErr: models.ErrInvalidMode,
		},
		{
			name:        "empty query",
			query:       "   ",
			mode:        "keyword",
			client:      &MockAIClient{},
			store:       &MockStore{},
			expectedErr: ErrEmptyQuery,
		},
		{
			name:  "embedding failure",
			query: "alpha",
			client: &MockAIClient{EmbedFunc: func(ctx context.Context, text string, task ai.TaskType) ([]float32, error) {
				return nil, errors.New("quota exceeded")
			}},
			store:       &MockStore{},
			expectedErr: ai.ErrEmbedding,
		},
		{
			name:        "no hits",
			query:       "alpha",
			client:      &MockAIClient{},
			store:       &MockStore{},
			expectedErr: ErrNoResults,
		},
		{
			name:   "search failure",
			query:  "alpha",
			client: &MockAIClient{},
			store: &MockStore{SearchFunc: func(ctx context.Context, vec []float32, k int) ([]models.ScoredHit, error) {
				return nil, fmt.Errorf("%w: connection reset", store.ErrIndexSearch)
			}},
			expectedErr: store.ErrIndexSearch,
		},
		{
			name:  "summary failure",
			query: "alpha",
			client: &MockAIClient{GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
				if strings.HasSuffix(prompt, scoreSuffix) {
					return "70", nil
				}
				return "", errors.New("model overloaded")
			}},
			store: &MockStore{SearchFunc: func(ctx context.Context, vec []float32, k int) ([]models.ScoredHit, error) {
				return sampleHits(), nil
			}},
			expectedErr: ai.ErrGeneration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.client, tt.store, Options{})
			resp, err := svc.Query(context.Background(), tt.query, tt.mode)

			if tt.expectedErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.expectedErr)
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, resp, tt.client)
			}
		})
	}
}

func TestService_QueryTaskAndTopK(t *testing.T) {
	var task ai.TaskType
	c := &MockAIClient{EmbedFunc: func(ctx context.Context, text string, tt ai.TaskType) ([]float32, error) {
		task = tt
		return []float32{1}, nil
	}}
	s := &MockStore{SearchFunc: func(ctx context.Context, vec []float32, k int) ([]models.ScoredHit, error) {
		return sampleHits(), nil
	}}

	_, err := NewService(c, s, Options{}).Query(context.Background(), "alpha", "")
	require.NoError(t, err)
	assert.Equal(t, ai.TaskQuery, task)
	assert.Equal(t, DefaultSearchTopK, s.lastK)
}

func TestService_KeywordPromptCapsChunks(t *testing.T) {
	var hits []models.ScoredHit
	for i := 0; i < 30; i++ {
		hits = append(hits, models.ScoredHit{
			FileID: fmt.Sprintf("f%d", i), ChunkID: fmt.Sprintf("c%d", i), Text: fmt.Sprintf("chunk-%02d", i),
		})
	}
	c := &MockAIClient{}
	s := &MockStore{SearchFunc: func(ctx context.Context, vec []float32, k int) ([]models.ScoredHit, error) {
		return hits, nil
	}}

	_, err := NewService(c, s, Options{}).Query(context.Background(), "q", "keyword")
	require.NoError(t, err)
	require.Len(t, c.prompts, 1)
	assert.Contains(t, c.prompts[0], "chunk-19")
	assert.NotContains(t, c.prompts[0], "chunk-20")
}

func TestService_RerankTimeoutKeepsScoredHits(t *testing.T) {
	c := &MockAIClient{GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
		if !strings.HasSuffix(prompt, scoreSuffix) {
			return "### summary", nil
		}
		if strings.Contains(prompt, "beta one") {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "80", nil
	}}
	s := &MockStore{SearchFunc: func(ctx context.Context, vec []float32, k int) ([]models.ScoredHit, error) {
		return sampleHits(), nil
	}}

	svc := NewService(c, s, Options{RerankTimeout: 50 * time.Millisecond})
	resp, err := svc.Query(context.Background(), "q", "conceptual")
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "A", resp.Results[0].FileID)
	assert.Len(t, resp.Results[0].TopChunks, 2)
}

// Ingest one document into three chunks, retrieve them with similarity
// scores 0.1, 0.5 and 0.9, and let the relevance model echo 100-score*100.
func TestEndToEnd_IngestThenQuery(t *testing.T) {
	ctx := context.Background()
	st := &MockStore{}
	embeds := map[string][]float32{
		"first chunk":  {1, 0, 0},
		"second chunk": {0, 1, 0},
		"third chunk":  {0, 0, 1},
	}
	c := &MockAIClient{EmbedFunc: func(ctx context.Context, text string, task ai.TaskType) ([]float32, error) {
		if v, ok := embeds[text]; ok {
			return v, nil
		}
		return []float32{0.5, 0.5, 0.5}, nil
	}}

	ix := ingest.New(st, c, lineChunker{}, "")
	out, err := ix.IngestDocument(ctx, "doc-1", "first chunk\nsecond chunk\nthird chunk")
	require.NoError(t, err)
	require.Equal(t, 3, out.Chunks)
	assert.Equal(t, [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}, st.rows.Embeddings)

	distances := []float64{0.1, 0.5, 0.9}
	st.SearchFunc = func(ctx context.Context, vec []float32, k int) ([]models.ScoredHit, error) {
		hits := make([]models.ScoredHit, st.rows.Len())
		for i := range hits {
			hits[i] = models.ScoredHit{
				FileID: st.rows.FileIDs[i], ChunkID: st.rows.IDs[i], Text: st.rows.Texts[i], SimilarityScore: distances[i],
			}
		}
		return hits, nil
	}
	byText := map[string]float64{"first chunk": 0.1, "second chunk": 0.5, "third chunk": 0.9}
	c.GenerateFunc = func(ctx context.Context, prompt string) (string, error) {
		if !strings.HasSuffix(prompt, scoreSuffix) {
			return "summary", nil
		}
		for text, d := range byText {
			if strings.Contains(prompt, "Content:\n"+text+"\n") {
				return fmt.Sprintf("%d", int(100-d*100+0.5)), nil
			}
		}
		return "0", nil
	}

	svc := NewService(c, st, Options{})
	r, err := svc.Rank(ctx, "unrelated words")
	require.NoError(t, err)

	var scores []int
	var texts []string
	for _, h := range r.Reranked.Hits {
		scores = append(scores, h.RelevanceScore)
		texts = append(texts, h.Text)
	}
	assert.Equal(t, []int{90, 50, 10}, scores)
	assert.Equal(t, []string{"first chunk", "second chunk", "third chunk"}, texts)

	require.Len(t, r.Groups, 1)
	assert.Equal(t, "doc-1", r.Groups[0].FileID)
	assert.Equal(t, 50.0, r.Groups[0].AvgScore)

	resp, err := svc.Query(ctx, "unrelated words", "conceptual")
	require.NoError(t, err)
	assert.Equal(t, "summary", resp.Summary.Markdown)
}

type lineChunker struct{}

func (lineChunker) Chunk(text string) []models.Chunk {
	var out []models.Chunk
	for _, l := range strings.Split(text, "\n") {
		out = append(out, models.Chunk{Text: l, TokenCount: 2})
	}
	return out
}
