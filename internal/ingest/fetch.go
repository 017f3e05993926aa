package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"
)

// DefaultMaxBytes caps a single remote download.
const DefaultMaxBytes = 64 << 20

var driveIDPattern = regexp.MustCompile(`/d/([a-zA-Z0-9_-]+)`)

// Fetcher downloads a remote document.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// HTTPFetcher fetches documents over HTTP(S).
type HTTPFetcher struct {
	Client   *http.Client
	MaxBytes int64
}

// NewHTTPFetcher returns a fetcher with a request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPFetcher{Client: &http.Client{Timeout: timeout}, MaxBytes: DefaultMaxBytes}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAcquisition, err)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAcquisition, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned HTTP %d", ErrAcquisition, rawURL, resp.StatusCode)
	}

	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAcquisition, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: document larger than %d bytes", ErrAcquisition, limit)
	}
	return data, nil
}

// Source is a resolved remote document location.
type Source struct {
	DownloadURL string
	FileID      string
	Name        string
}

// ResolveURL maps a user supplied link to its download location. Google Drive
// share links (".../d/<id>/...") are rewritten to the direct download endpoint
// and identified by the Drive id; other links are identified by the last path
// segment.
func ResolveURL(raw string) (Source, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return Source{}, fmt.Errorf("%w: invalid url %q", ErrAcquisition, raw)
	}

	if strings.Contains(u.Host, "drive.google.com") {
		m := driveIDPattern.FindStringSubmatch(u.Path)
		if m == nil {
			if id := u.Query().Get("id"); id != "" {
				m = []string{"", id}
			} else {
				return Source{}, fmt.Errorf("%w: invalid Google Drive link format", ErrAcquisition)
			}
		}
		id := m[1]
		return Source{
			DownloadURL: "https://drive.google.com/uc?export=download&id=" + url.QueryEscape(id),
			FileID:      id,
			Name:        id + ".pdf",
		}, nil
	}

	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return Source{}, fmt.Errorf("%w: cannot derive a file id from %q", ErrAcquisition, raw)
	}
	return Source{DownloadURL: u.String(), FileID: name, Name: name}, nil
}
