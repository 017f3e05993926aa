package ingest

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Extractor turns raw document bytes into plain text.
type Extractor interface {
	Extract(name string, data []byte) (string, error)
}

// DefaultExtractor reads PDF through ledongthuc/pdf and passes text formats
// through unchanged.
type DefaultExtractor struct{}

// Supported reports whether name has an extension the extractor handles.
func Supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf", ".txt", ".md", ".markdown":
		return true
	}
	return false
}

func (DefaultExtractor) Extract(name string, data []byte) (string, error) {
	if isPDF(name, data) {
		return extractPDF(data)
	}
	if !Supported(name) && filepath.Ext(name) != "" {
		return "", fmt.Errorf("%w: unsupported file type %q", ErrExtraction, filepath.Ext(name))
	}
	return string(data), nil
}

func isPDF(name string, data []byte) bool {
	return strings.EqualFold(filepath.Ext(name), ".pdf") || bytes.HasPrefix(data, []byte("%PDF-"))
}

func extractPDF(data []byte) (text string, err error) {
	// the pdf reader panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: malformed pdf: %v", ErrExtraction, r)
		}
	}()

	rdr, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	b, err := rdr.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, b); err != nil {
		return "", fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	return buf.String(), nil
}
