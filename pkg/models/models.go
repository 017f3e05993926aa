package models

import (
	"errors"
	"fmt"
	"strings"
)

// Chunk is a token window cut from a document's text.
type Chunk struct {
	Text       string `json:"text"`
	TokenCount int    `json:"token_count"`
}

// IndexedChunk is a chunk as persisted in the vector index.
type IndexedChunk struct {
	ChunkID   string    `json:"chunk_id"`
	FileID    string    `json:"file_id"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"-"`
}

// ChunkRows is the columnar insert payload for the vector index.
type ChunkRows struct {
	IDs        []string
	FileIDs    []string
	Texts      []string
	Embeddings [][]float32
}

// Len returns the number of rows.
func (r ChunkRows) Len() int { return len(r.IDs) }

// Validate checks that all columns have the same length.
func (r ChunkRows) Validate() error {
	n := len(r.IDs)
	if len(r.FileIDs) != n || len(r.Texts) != n || len(r.Embeddings) != n {
		return fmt.Errorf("column length mismatch: ids=%d file_ids=%d texts=%d embeddings=%d",
			n, len(r.FileIDs), len(r.Texts), len(r.Embeddings))
	}
	return nil
}

// Append adds a single row.
func (r *ChunkRows) Append(c IndexedChunk) {
	r.IDs = append(r.IDs, c.ChunkID)
	r.FileIDs = append(r.FileIDs, c.FileID)
	r.Texts = append(r.Texts, c.Text)
	r.Embeddings = append(r.Embeddings, c.Embedding)
}

// ScoredHit is a raw similarity search hit. SimilarityScore is a distance:
// lower means more similar.
type ScoredHit struct {
	FileID          string  `json:"file_id"`
	ChunkID         string  `json:"chunk_id"`
	Text            string  `json:"chunk"`
	SimilarityScore float64 `json:"distance"`
}

// RerankedHit is a hit re-scored by the relevance model, 0-100, higher is better.
type RerankedHit struct {
	ScoredHit
	RelevanceScore int `json:"score"`
}

// DocumentGroup holds the reranked hits of one source document.
type DocumentGroup struct {
	FileID    string        `json:"file_id"`
	TopChunks []RerankedHit `json:"top_chunks"`
	AvgScore  float64       `json:"avg_score"`
}

// GroundTruthEntry maps a query to the documents known to be relevant to it.
type GroundTruthEntry struct {
	Query           string   `json:"query" yaml:"query"`
	RelevantFileIDs []string `json:"relevant_file_ids" yaml:"relevant_file_ids"`
}

// EvaluationRecord is the outcome of one (query, mode) evaluation.
type EvaluationRecord struct {
	Query            string   `json:"query"`
	Mode             Mode     `json:"mode"`
	Precision        float64  `json:"precision"`
	Recall           float64  `json:"recall"`
	F1               float64  `json:"f1_score"`
	PredictedFileIDs []string `json:"predicted_file_ids"`
	Error            string   `json:"error,omitempty"`
}

// Mode selects how search results are summarized.
type Mode string

const (
	ModeConceptual Mode = "conceptual"
	ModeKeyword    Mode = "keyword"
)

// Modes lists every supported mode in evaluation order.
var Modes = []Mode{ModeConceptual, ModeKeyword}

var ErrInvalidMode = errors.New("invalid search mode, use 'conceptual' or 'keyword'")

// ParseMode converts a client supplied mode. An empty string selects the
// conceptual mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeConceptual:
		return ModeConceptual, nil
	case ModeKeyword:
		return ModeKeyword, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Summary is the model generated answer for a query.
type Summary struct {
	Markdown string `json:"markdown"`
}

// SearchRequest is the query API payload.
type SearchRequest struct {
	Query string `json:"query"`
	Mode  string `json:"mode"`
}

// SearchResponse is the query API result.
type SearchResponse struct {
	Query   string          `json:"query"`
	Summary Summary         `json:"summary"`
	Results []DocumentGroup `json:"results"`
}
