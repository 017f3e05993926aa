package evaluate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/seanblong/docsearch/internal/rank"
	"github.com/seanblong/docsearch/internal/search"
	"github.com/seanblong/docsearch/pkg/models"
)

// ServiceRetriever retrieves through an in-process search service. It stops
// after grouping, so no summary is generated and a summarization failure can
// never surface as an evaluation error; HTTPRetriever covers the full
// /semantic-search path.
type ServiceRetriever struct {
	Service *search.Service
}

func (r ServiceRetriever) Retrieve(ctx context.Context, query string, mode models.Mode) ([]string, error) {
	if _, err := models.ParseMode(string(mode)); err != nil {
		return nil, err
	}
	res, err := r.Service.Rank(ctx, query)
	if err != nil {
		return nil, err
	}
	return rank.FileIDs(res.Groups), nil
}

// HTTPRetriever retrieves through a running API server.
type HTTPRetriever struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// NewHTTPRetriever targets the API at baseURL.
func NewHTTPRetriever(baseURL, token string) *HTTPRetriever {
	return &HTTPRetriever{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

func (r *HTTPRetriever) Retrieve(ctx context.Context, query string, mode models.Mode) ([]string, error) {
	body, err := json.Marshal(models.SearchRequest{Query: query, Mode: string(mode)})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/semantic-search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.Token)
	}

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return rank.FileIDs(out.Results), nil
}

// SaveReport writes the report as indented JSON.
func SaveReport(path string, r Report) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// LoadReport reads a report previously written by SaveReport.
func LoadReport(path string) (json.RawMessage, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("%s does not contain valid JSON", path)
	}
	return json.RawMessage(b), nil
}
