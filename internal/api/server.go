// Package api exposes search, ingestion and evaluation over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/docsearch/internal/ai"
	"github.com/seanblong/docsearch/internal/auth"
	"github.com/seanblong/docsearch/internal/evaluate"
	"github.com/seanblong/docsearch/internal/ingest"
	"github.com/seanblong/docsearch/internal/search"
	"github.com/seanblong/docsearch/internal/store"
	"github.com/seanblong/docsearch/pkg/models"
)

// MaxUploadBytes bounds a multipart upload to /ingest.
const MaxUploadBytes = 64 << 20

const (
	searchTimeout = 2 * time.Minute
	ingestTimeout = 10 * time.Minute
	filesTimeout  = 5 * time.Second
)

type Searcher interface {
	Query(ctx context.Context, q string, mode string) (models.SearchResponse, error)
}

type Ingester interface {
	IngestBytes(ctx context.Context, fileID, name string, data []byte) (ingest.Outcome, error)
	IngestURL(ctx context.Context, rawURL string) (ingest.Outcome, error)
}

// FileStore lists and removes ingested documents.
type FileStore interface {
	ListFiles(ctx context.Context) ([]string, error)
	DeleteFile(ctx context.Context, fileID string) (int64, error)
}

// Server holds the request handlers' dependencies. Every field is read-only
// once the handler is built.
type Server struct {
	Search    Searcher
	Ingest    Ingester
	Files     FileStore
	Retriever evaluate.Retriever
	// GroundTruth backs /evaluate-ground-truth; nil disables the route.
	GroundTruth evaluate.GroundTruth
	// ResultsPath is the report served by /evaluation-results.
	ResultsPath string
}

type ingestURLRequest struct {
	URL string `json:"url"`
}

type deleteResponse struct {
	FileID  string `json:"file_id"`
	Deleted int64  `json:"deleted_chunks"`
}

// Handler returns the routed mux wrapped with request logging.
func (s *Server) Handler(logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	mux.HandleFunc("GET /auth/status", s.authStatus)

	mux.HandleFunc("POST /semantic-search", auth.OptionalAuthMiddleware(s.semanticSearch))
	mux.HandleFunc("POST /ingest", auth.OptionalAuthMiddleware(auth.RequireScope(auth.ScopeIngest, s.ingestUpload)))
	mux.HandleFunc("POST /ingest-url", auth.OptionalAuthMiddleware(auth.RequireScope(auth.ScopeIngest, s.ingestURL)))
	mux.HandleFunc("GET /files", auth.OptionalAuthMiddleware(s.listFiles))
	mux.HandleFunc("DELETE /files/{file_id...}", auth.OptionalAuthMiddleware(auth.RequireScope(auth.ScopeIngest, s.deleteFile)))
	mux.HandleFunc("GET /evaluate-ground-truth", auth.OptionalAuthMiddleware(s.evaluateGroundTruth))
	mux.HandleFunc("GET /evaluation-results", auth.OptionalAuthMiddleware(s.evaluationResults))

	return hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)
}

func (s *Server) authStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": auth.IsAuthEnabled()})
}

func (s *Server) semanticSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), searchTimeout)
	defer cancel()

	res, err := s.Search.Query(ctx, req.Query, req.Mode)
	if err != nil {
		status := searchStatus(err)
		hlog.FromRequest(r).Error().Err(err).Str("query", req.Query).Int("status", status).Msg("search failed")
		http.Error(w, err.Error(), status)
		return
	}
	if res.Results == nil {
		res.Results = []models.DocumentGroup{}
	}

	writeJSON(w, http.StatusOK, res)
	hlog.FromRequest(r).Info().Str("path", "/semantic-search").Str("q", req.Query).Str("mode", req.Mode).Dur("dur", time.Since(start)).Msg("served")
}

// searchStatus maps a query pipeline error onto an HTTP status.
func searchStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidMode), errors.Is(err, search.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, ai.ErrEmbedding):
		return http.StatusBadGateway
	case errors.Is(err, search.ErrNoResults):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ingestStatus maps an ingestion error onto an HTTP status.
func ingestStatus(err error) int {
	switch {
	case errors.Is(err, ingest.ErrExtraction):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ingest.ErrAcquisition):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) ingestUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing multipart field 'file'", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read upload", http.StatusBadRequest)
		return
	}

	name := path.Base(header.Filename)
	if !ingest.Supported(name) && !strings.HasPrefix(string(data), "%PDF-") {
		http.Error(w, "unsupported file type, use PDF, text or markdown", http.StatusUnsupportedMediaType)
		return
	}
	fileID := strings.TrimSpace(r.FormValue("file_id"))
	if fileID == "" {
		fileID = name
	}

	ctx, cancel := context.WithTimeout(r.Context(), ingestTimeout)
	defer cancel()

	out, err := s.Ingest.IngestBytes(ctx, fileID, name, data)
	s.writeIngest(w, r, fileID, out, err)
}

func (s *Server) ingestURL(w http.ResponseWriter, r *http.Request) {
	var req ingestURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ingestTimeout)
	defer cancel()

	out, err := s.Ingest.IngestURL(ctx, req.URL)
	s.writeIngest(w, r, req.URL, out, err)
}

// writeIngest answers a single-document ingestion with a one-entry report.
func (s *Server) writeIngest(w http.ResponseWriter, r *http.Request, source string, out ingest.Outcome, err error) {
	var report ingest.Report
	switch {
	case err != nil:
		status := ingestStatus(err)
		hlog.FromRequest(r).Error().Err(err).Str("source", source).Int("status", status).Msg("ingestion failed")
		report.Failed = []ingest.Failure{{Source: source, Error: err.Error()}}
		writeJSON(w, status, report)
		return
	case out.Duplicate:
		report.Duplicates = []string{out.FileID}
	default:
		report.Ingested = []ingest.Outcome{out}
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), filesTimeout)
	defer cancel()

	files, err := s.Files.ListFiles(ctx)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if files == nil {
		files = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"files": files})
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	fileID := r.PathValue("file_id")
	if strings.TrimSpace(fileID) == "" {
		http.Error(w, "file id is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), filesTimeout)
	defer cancel()

	n, err := s.Files.DeleteFile(ctx, fileID)
	if err != nil {
		status := 500
		if errors.Is(err, store.ErrIndexWrite) {
			status = http.StatusBadGateway
		}
		http.Error(w, err.Error(), status)
		return
	}
	if n == 0 {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{FileID: fileID, Deleted: n})
}

// evaluateGroundTruth scores the loaded ground truth through Retriever. The
// in-process retriever stops after ranking, so summarization failures never
// show up as error records here; evaluate against /semantic-search with
// cmd/evaluate --api-url to cover them.
func (s *Server) evaluateGroundTruth(w http.ResponseWriter, r *http.Request) {
	if s.GroundTruth == nil || s.Retriever == nil {
		http.Error(w, "ground truth not loaded", http.StatusNotFound)
		return
	}

	report, err := evaluate.New(s.GroundTruth, s.Retriever).Evaluate(r.Context())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) evaluationResults(w http.ResponseWriter, r *http.Request) {
	raw, err := evaluate.LoadReport(s.ResultsPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.Error(w, "no evaluation results found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(raw); err != nil {
		log.Error().Err(err).Msg("failed to write evaluation results")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
