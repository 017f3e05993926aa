// Package ingest turns source documents into indexed chunks: acquire, extract
// text, chunk, embed, insert.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/docsearch/internal/ai"
	"github.com/seanblong/docsearch/internal/store"
	"github.com/seanblong/docsearch/pkg/models"
)

var (
	ErrAcquisition = errors.New("document acquisition failed")
	ErrExtraction  = errors.New("text extraction failed")
	ErrMismatch    = errors.New("chunk and embedding counts differ")
)

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader defines the interface for reading files
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// DefaultFileReader implements FileReader using os
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// Chunker splits document text into token windows.
type Chunker interface {
	Chunk(text string) []models.Chunk
}

// Ingester indexes documents into a ChunkStore.
type Ingester struct {
	Store      store.ChunkStore
	Client     ai.Client
	Chunker    Chunker
	Extractor  Extractor
	Fetcher    Fetcher
	Walker     FileSystemWalker
	FileReader FileReader
	// Root is the folder walked by Run.
	Root string
	// NewID generates chunk ids.
	NewID func() string
}

// New creates an Ingester with the default filesystem, extraction and HTTP
// dependencies.
func New(s store.ChunkStore, client ai.Client, c Chunker, root string) *Ingester {
	return &Ingester{
		Store:      s,
		Client:     client,
		Chunker:    c,
		Extractor:  DefaultExtractor{},
		Fetcher:    NewHTTPFetcher(0),
		Walker:     &DefaultFileSystemWalker{},
		FileReader: &DefaultFileReader{},
		Root:       root,
		NewID:      uuid.NewString,
	}
}

// Outcome describes one ingested document.
type Outcome struct {
	FileID string `json:"file_id"`
	// Chunks is the number of rows inserted.
	Chunks int `json:"chunks"`
	// EmbedFailures counts chunks whose embedding call failed.
	EmbedFailures int  `json:"embed_failures,omitempty"`
	Duplicate     bool `json:"duplicate,omitempty"`
}

// Failure is a document that could not be ingested.
type Failure struct {
	Source string `json:"source"`
	Error  string `json:"error"`
	Err    error  `json:"-"`
}

// Report summarises a batch ingestion.
type Report struct {
	Ingested   []Outcome `json:"ingested"`
	Duplicates []string  `json:"duplicates"`
	Failed     []Failure `json:"failed"`
}

func (r *Report) add(source string, out Outcome, err error) {
	switch {
	case err != nil:
		r.Failed = append(r.Failed, Failure{Source: source, Error: err.Error(), Err: err})
	case out.Duplicate:
		r.Duplicates = append(r.Duplicates, out.FileID)
	default:
		r.Ingested = append(r.Ingested, out)
	}
}

// Checksum returns the hex sha256 of raw document bytes.
func Checksum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// IngestDocument chunks text, embeds every chunk and inserts the rows for
// fileID. Chunks whose embedding fails are skipped; the document is aborted
// with ErrMismatch when the surviving embeddings no longer line up with the
// chunks, and nothing is inserted.
func (ix *Ingester) IngestDocument(ctx context.Context, fileID, text string) (Outcome, error) {
	out := Outcome{FileID: fileID}
	if strings.TrimSpace(fileID) == "" {
		return out, errors.New("file id is required")
	}
	if strings.TrimSpace(text) == "" {
		return out, fmt.Errorf("%w: empty or unreadable text", ErrExtraction)
	}

	chunks := ix.Chunker.Chunk(text)
	embeddings := make([][]float32, 0, len(chunks))
	for i, ch := range chunks {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		vec, err := ix.Client.Embed(ctx, ch.Text, ai.TaskDocument)
		if err != nil {
			out.EmbedFailures++
			log.Warn().Err(err).Str("file_id", fileID).Int("chunk", i).Msg("embedding failed, skipping chunk")
			continue
		}
		embeddings = append(embeddings, vec)
	}

	if len(embeddings) != len(chunks) {
		return out, fmt.Errorf("%w: %d chunks, %d embeddings", ErrMismatch, len(chunks), len(embeddings))
	}

	newID := ix.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	var rows models.ChunkRows
	for i, ch := range chunks {
		rows.Append(models.IndexedChunk{
			ChunkID:   newID(),
			FileID:    fileID,
			Text:      ch.Text,
			Embedding: embeddings[i],
		})
	}

	if err := ix.Store.Insert(ctx, rows); err != nil {
		return out, err
	}
	out.Chunks = rows.Len()

	log.Info().Str("file_id", fileID).Int("chunks", out.Chunks).Msg("document ingested")
	return out, nil
}

// IngestBytes ingests a raw document. Documents already ingested with the
// same content are reported as duplicates and left untouched.
func (ix *Ingester) IngestBytes(ctx context.Context, fileID, name string, data []byte) (Outcome, error) {
	sum := Checksum(data)
	done, err := ix.Store.IsProcessed(ctx, sum)
	if err != nil {
		log.Warn().Err(err).Str("file_id", fileID).Msg("checksum lookup failed, ingesting anyway")
	} else if done {
		log.Info().Str("file_id", fileID).Msg("skipping duplicate document")
		return Outcome{FileID: fileID, Duplicate: true}, nil
	}

	text, err := ix.Extractor.Extract(name, data)
	if err != nil {
		if !errors.Is(err, ErrExtraction) {
			err = fmt.Errorf("%w: %w", ErrExtraction, err)
		}
		return Outcome{FileID: fileID}, err
	}

	out, err := ix.IngestDocument(ctx, fileID, text)
	if err != nil {
		return out, err
	}
	if err := ix.Store.MarkProcessed(ctx, sum, fileID); err != nil {
		log.Warn().Err(err).Str("file_id", fileID).Msg("failed to record checksum")
	}
	return out, nil
}

// IngestURL downloads and ingests a single remote document.
func (ix *Ingester) IngestURL(ctx context.Context, rawURL string) (Outcome, error) {
	src, err := ResolveURL(rawURL)
	if err != nil {
		return Outcome{}, err
	}
	log.Info().Str("url", src.DownloadURL).Str("file_id", src.FileID).Msg("fetching document")

	data, err := ix.Fetcher.Fetch(ctx, src.DownloadURL)
	if err != nil {
		if !errors.Is(err, ErrAcquisition) {
			err = fmt.Errorf("%w: %w", ErrAcquisition, err)
		}
		return Outcome{FileID: src.FileID}, err
	}
	return ix.IngestBytes(ctx, src.FileID, src.Name, data)
}

// Run walks Root and ingests every supported document, one at a time. Per
// document failures are collected in the report; only a failed walk or a
// cancelled context is returned as an error.
func (ix *Ingester) Run(ctx context.Context) (Report, error) {
	var report Report

	log.Info().Str("root", ix.Root).Msg("starting ingestion")

	walkErr := ix.Walker.Walk(ix.Root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de != nil && de.IsDir() {
				if shouldSkipDir(path) {
					return godirwalk.SkipThis
				}
				return nil
			}
			if !Supported(path) {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			fileID := rel(ix.Root, path)
			b, err := ix.FileReader.ReadFile(path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to read file")
				report.add(fileID, Outcome{}, fmt.Errorf("%w: %w", ErrAcquisition, err))
				return nil
			}

			out, err := ix.IngestBytes(ctx, fileID, path, b)
			if err != nil {
				log.Error().Err(err).Str("path", path).Msg("ingestion failed")
			}
			report.add(fileID, out, err)
			return nil
		},
	})

	log.Info().
		Int("ingested", len(report.Ingested)).
		Int("duplicates", len(report.Duplicates)).
		Int("failed", len(report.Failed)).
		Msg("ingestion finished")

	return report, walkErr
}

// shouldSkipDir returns true for directories that never hold source documents.
func shouldSkipDir(path string) bool {
	base := filepath.Base(path)
	switch base {
	case ".git", "node_modules", ".venv", "venv", "__pycache__", ".cache", ".idea":
		return true
	}
	return false
}

func rel(root, p string) string {
	r, err := filepath.Rel(root, p)
	if err != nil {
		return p
	}
	return filepath.ToSlash(r)
}
