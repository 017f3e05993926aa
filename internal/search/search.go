// Package search runs the query pipeline: embed, vector search, rerank, group
// by document and summarize.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/docsearch/internal/ai"
	"github.com/seanblong/docsearch/internal/rank"
	"github.com/seanblong/docsearch/internal/rerank"
	"github.com/seanblong/docsearch/internal/store"
	"github.com/seanblong/docsearch/pkg/models"
)

const DefaultSearchTopK = 20

var (
	// ErrNoResults means the vector index returned no hit for the query.
	ErrNoResults = errors.New("no results found")
	// ErrEmptyQuery means the query was blank after trimming.
	ErrEmptyQuery = errors.New("query is required")
)

// Options tunes the pipeline. Zero values select the defaults.
type Options struct {
	SearchTopK        int
	RerankTopK        int
	RerankConcurrency int
	RerankTimeout     time.Duration
	GroupTopN         int
}

type Service struct {
	Client   ai.Client
	Store    store.ChunkStore
	Reranker *rerank.Reranker
	Options  Options
}

// NewService creates a new search service with the provided AI client and store
func NewService(client ai.Client, s store.ChunkStore, opts Options) *Service {
	if opts.SearchTopK <= 0 {
		opts.SearchTopK = DefaultSearchTopK
	}
	if opts.GroupTopN <= 0 {
		opts.GroupTopN = rank.DefaultTopN
	}
	rr := rerank.New(client, opts.RerankTopK, opts.RerankConcurrency)
	rr.Timeout = opts.RerankTimeout
	return &Service{
		Client:   client,
		Store:    s,
		Reranker: rr,
		Options:  opts,
	}
}

// Ranking is the retrieval part of a query, before summarization.
type Ranking struct {
	Hits     []models.ScoredHit
	Reranked rerank.Result
	Groups   []models.DocumentGroup
}

// Rank embeds q, searches the index, reranks the hits and groups them by file.
func (s *Service) Rank(ctx context.Context, q string) (Ranking, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return Ranking{}, ErrEmptyQuery
	}

	vec, err := s.Client.Embed(ctx, q, ai.TaskQuery)
	if err != nil {
		log.Error().Err(err).Str("query", q).Msg("query embedding failed")
		if !errors.Is(err, ai.ErrEmbedding) {
			err = fmt.Errorf("%w: %w", ai.ErrEmbedding, err)
		}
		return Ranking{}, err
	}

	hits, err := s.Store.Search(ctx, vec, s.Options.SearchTopK)
	if err != nil {
		return Ranking{}, err
	}
	if len(hits) == 0 {
		return Ranking{}, ErrNoResults
	}

	res, err := s.Reranker.Rerank(ctx, q, hits)
	if err != nil {
		return Ranking{}, err
	}
	if len(res.Failures) > 0 {
		log.Warn().Int("failed", len(res.Failures)).Int("hits", len(hits)).Msg("some hits could not be reranked")
	}

	return Ranking{
		Hits:     hits,
		Reranked: res,
		Groups:   rank.GroupByFile(res.Hits, s.Options.GroupTopN),
	}, nil
}

// Query runs the full pipeline and summarizes the result according to mode.
func (s *Service) Query(ctx context.Context, q string, mode string) (models.SearchResponse, error) {
	m, err := models.ParseMode(mode)
	if err != nil {
		return models.SearchResponse{}, err
	}
	q = strings.TrimSpace(q)

	r, err := s.Rank(ctx, q)
	if err != nil {
		return models.SearchResponse{}, err
	}

	var prompt string
	switch m {
	case models.ModeKeyword:
		prompt = keywordPrompt(q, r.Hits)
	default:
		prompt = conceptualPrompt(q, r.Groups)
	}

	md, err := s.Client.Generate(ctx, prompt)
	if err != nil {
		if !errors.Is(err, ai.ErrGeneration) {
			err = fmt.Errorf("%w: %w", ai.ErrGeneration, err)
		}
		return models.SearchResponse{}, fmt.Errorf("summarize: %w", err)
	}

	log.Debug().Str("query", q).Str("mode", string(m)).Int("groups", len(r.Groups)).Msg("query answered")
	return models.SearchResponse{
		Query:   q,
		Summary: models.Summary{Markdown: md},
		Results: r.Groups,
	}, nil
}
