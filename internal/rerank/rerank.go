// Package rerank re-scores similarity hits with a relevance model.
//
// Every hit is scored independently by asking the model for an integer between
// 0 and 100. Literal keyword overlap between the query and the chunk adds a
// small boost on top of the model judgment. Scoring calls run on a bounded
// worker pool; a failing call only drops its own hit.
package rerank

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/docsearch/pkg/models"
)

const (
	DefaultTopK        = 10
	DefaultConcurrency = 20

	maxScore = 100
)

var (
	// ErrEmptyResponse means the model call succeeded without any text.
	ErrEmptyResponse = errors.New("relevance model returned no text")
	// ErrScoreParse means the model answered but no score could be read. The
	// hit is kept with a score of 0.
	ErrScoreParse = errors.New("no score in relevance model response")
)

// Generator is the relevance model: prompt in, free text out.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Reranker scores hits against a query with at most Concurrency calls in flight.
type Reranker struct {
	Generator   Generator
	TopK        int
	Concurrency int
	// Timeout bounds a whole batch. Hits still unscored when it expires are
	// reported as failures; zero means no bound.
	Timeout time.Duration
}

// New creates a Reranker, falling back to the defaults for non-positive values.
func New(g Generator, topK, concurrency int) *Reranker {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Reranker{Generator: g, TopK: topK, Concurrency: concurrency}
}

// Failure describes a hit that was dropped during reranking.
type Failure struct {
	Index   int    `json:"index"`
	FileID  string `json:"file_id"`
	ChunkID string `json:"chunk_id"`
	Err     error  `json:"-"`
}

func (f Failure) Error() string {
	return fmt.Sprintf("hit %d (%s): %v", f.Index, f.FileID, f.Err)
}

// Result is the batch report of a Rerank call.
type Result struct {
	// Hits are sorted by RelevanceScore descending and truncated to TopK.
	Hits []models.RerankedHit
	// Failures lists hits dropped because the model call failed or was empty.
	Failures []Failure
	// ParseFailures counts hits kept with score 0 because no digit was found.
	ParseFailures int
	// Skipped counts hits without text, which are never sent to the model.
	Skipped int
}

type outcome struct {
	hit         models.RerankedHit
	kept        bool
	skipped     bool
	parseFailed bool
	err         error
	done        bool
}

// Rerank scores every hit and returns the best TopK of them. Individual
// failures are reported in the Result, including hits left unscored when the
// batch Timeout expires. An error is returned when ctx itself ends first, or
// when the Timeout expired before any hit was scored.
func (r *Reranker) Rerank(ctx context.Context, query string, hits []models.ScoredHit) (Result, error) {
	if r.Generator == nil {
		return Result{}, errors.New("reranker has no generator")
	}
	if len(hits) == 0 {
		return Result{}, nil
	}

	numWorkers := r.Concurrency
	if numWorkers <= 0 {
		numWorkers = DefaultConcurrency
	}
	numWorkers = min(numWorkers, len(hits))

	log.Debug().Int("hits", len(hits)).Int("workers", numWorkers).Msg("reranking")

	batchCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		batchCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	// one slot per hit keeps the output independent of completion order
	outcomes := make([]outcome, len(hits))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				o := r.score(batchCtx, query, hits[idx])
				o.done = true
				outcomes[idx] = o
			}
		}()
	}

feed:
	for i := range hits {
		select {
		case jobs <- i:
		case <-batchCtx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("rerank aborted: %w", err)
	}
	for i := range outcomes {
		if !outcomes[i].done {
			outcomes[i].err = batchCtx.Err()
		}
	}

	var res Result
	kept := make([]models.RerankedHit, 0, len(hits))
	for i, o := range outcomes {
		switch {
		case o.skipped:
			res.Skipped++
		case o.err != nil:
			res.Failures = append(res.Failures, Failure{
				Index:   i,
				FileID:  hits[i].FileID,
				ChunkID: hits[i].ChunkID,
				Err:     o.err,
			})
		case o.kept:
			if o.parseFailed {
				res.ParseFailures++
			}
			kept = append(kept, o.hit)
		}
	}

	sort.SliceStable(kept, func(a, b int) bool {
		return kept[a].RelevanceScore > kept[b].RelevanceScore
	})
	if len(kept) > r.topK() {
		kept = kept[:r.topK()]
	}
	res.Hits = kept

	if err := batchCtx.Err(); err != nil {
		if len(kept) == 0 {
			return Result{}, fmt.Errorf("rerank aborted: %w", err)
		}
		log.Warn().Err(err).Int("kept", len(kept)).Int("failed", len(res.Failures)).Msg("rerank batch timed out, keeping scored hits")
	}

	log.Debug().
		Int("kept", len(res.Hits)).
		Int("failed", len(res.Failures)).
		Int("unparsed", res.ParseFailures).
		Msg("rerank finished")
	return res, nil
}

func (r *Reranker) topK() int {
	if r.TopK <= 0 {
		return DefaultTopK
	}
	return r.TopK
}

func (r *Reranker) score(ctx context.Context, query string, hit models.ScoredHit) outcome {
	if strings.TrimSpace(hit.Text) == "" {
		return outcome{skipped: true}
	}

	resp, err := r.Generator.Generate(ctx, Prompt(query, hit.Text))
	if err != nil {
		log.Warn().Err(err).Str("file_id", hit.FileID).Str("chunk_id", hit.ChunkID).Msg("rerank call failed")
		return outcome{err: err}
	}
	if strings.TrimSpace(resp) == "" {
		log.Warn().Str("file_id", hit.FileID).Str("chunk_id", hit.ChunkID).Msg("rerank call returned no text")
		return outcome{err: ErrEmptyResponse}
	}

	out := models.RerankedHit{ScoredHit: hit}
	score, ok := ParseScore(resp)
	if !ok {
		log.Debug().Err(ErrScoreParse).Str("file_id", hit.FileID).Str("response", resp).Msg("scoring as 0")
		return outcome{hit: out, kept: true, parseFailed: true}
	}
	out.RelevanceScore = min(score+LexicalBoost(query, hit.Text), maxScore)
	return outcome{hit: out, kept: true}
}

// ParseScore reads the first run of ASCII digits in text and clamps it to
// [0,100]. ok is false when text holds no digit at all.
func ParseScore(text string) (score int, ok bool) {
	start := strings.IndexFunc(text, isDigit)
	if start < 0 {
		return 0, false
	}
	end := start
	for end < len(text) && isDigit(rune(text[end])) {
		end++
	}

	run := strings.TrimLeft(text[start:end], "0")
	switch {
	case run == "":
		return 0, true
	case len(run) > 3:
		return maxScore, true
	}
	n, err := strconv.Atoi(run)
	if err != nil {
		return 0, false
	}
	return min(n, maxScore), true
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

// LexicalBoost returns the bonus for literal term overlap between query and
// text: 10 for three or more shared terms, 5 for one or two, 0 otherwise.
// Terms are lowercase whitespace-separated words.
func LexicalBoost(query, text string) int {
	q := termSet(query)
	shared := 0
	for t := range termSet(text) {
		if _, ok := q[t]; ok {
			shared++
		}
	}
	switch {
	case shared >= 3:
		return 10
	case shared >= 1:
		return 5
	}
	return 0
}

func termSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
