// Package chunker splits document text into overlapping fixed-size token windows.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"github.com/seanblong/docsearch/pkg/models"
)

const (
	DefaultWindow   = 512
	DefaultOverlap  = 100
	DefaultEncoding = "cl100k_base"
)

var ErrInvalidWindow = errors.New("chunk overlap must be positive and smaller than the window")

// Tokenizer converts between text and a flat token sequence. Implementations
// must be stable: the same text always yields the same tokens.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// Chunker cuts text into windows of Window tokens, each sharing Overlap tokens
// with the previous one.
type Chunker struct {
	tok     Tokenizer
	window  int
	overlap int
}

// New returns a Chunker after checking 0 < overlap < window.
func New(tok Tokenizer, window, overlap int) (*Chunker, error) {
	if tok == nil {
		return nil, errors.New("tokenizer is required")
	}
	if overlap <= 0 || overlap >= window {
		return nil, fmt.Errorf("%w: window=%d overlap=%d", ErrInvalidWindow, window, overlap)
	}
	return &Chunker{tok: tok, window: window, overlap: overlap}, nil
}

// Window returns the configured window size in tokens.
func (c *Chunker) Window() int { return c.window }

// Overlap returns the number of tokens shared by consecutive windows.
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk tokenizes text and returns the windows in document order. A window
// starts at every multiple of window-overlap below the token count, so the
// trailing window may be shorter than the others; it is still returned.
//
// Byte-level encodings may cut a multi-byte character at a window edge. The
// partial bytes are trimmed; the character is whole in the neighbouring window
// as long as it spans no more tokens than the overlap.
func (c *Chunker) Chunk(text string) []models.Chunk {
	tokens := c.tok.Encode(text)
	step := c.window - c.overlap

	chunks := make([]models.Chunk, 0, len(tokens)/step+1)
	for start := 0; start < len(tokens); start += step {
		end := min(start+c.window, len(tokens))
		window := tokens[start:end]
		decoded := trimPartialRunes(c.tok.Decode(window))
		if decoded == "" {
			continue
		}
		chunks = append(chunks, models.Chunk{
			Text:       decoded,
			TokenCount: len(window),
		})
	}
	return chunks
}

// trimPartialRunes drops incomplete UTF-8 sequences at both ends of s and any
// invalid bytes left inside it.
func trimPartialRunes(s string) string {
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		if r != utf8.RuneError || size != 1 {
			break
		}
		s = s[1:]
	}
	for len(s) > 0 {
		r, size := utf8.DecodeLastRuneInString(s)
		if r != utf8.RuneError || size != 1 {
			break
		}
		s = s[:len(s)-1]
	}
	return strings.ToValidUTF8(s, "")
}

// Tiktoken adapts a tiktoken BPE encoding to the Tokenizer interface.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding, e.g. "cl100k_base".
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding %s: %w", encoding, err)
	}
	return &Tiktoken{enc: enc}, nil
}

func (t *Tiktoken) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *Tiktoken) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}
