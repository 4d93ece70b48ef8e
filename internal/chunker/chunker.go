// Package chunker splits extracted document text into overlapping retrieval
// units. Chunking is deterministic: identical text and configuration always
// produce identical boundaries and chunk ids.
package chunker

import (
	"strings"

	"github.com/pipewrench-ai/pipewrench/internal/domain"
)

// Config controls chunk size and overlap, both measured in tokens.
type Config struct {
	MaxTokens     int
	OverlapTokens int
}

// DefaultConfig provides sane defaults for chunking.
func DefaultConfig() Config {
	return Config{
		MaxTokens:     512,
		OverlapTokens: 50,
	}
}

// Validate checks the chunking parameters.
func (c Config) Validate() error {
	if c.MaxTokens <= 0 || c.OverlapTokens < 0 || c.OverlapTokens >= c.MaxTokens {
		return domain.ErrInvalidChunkConfig
	}
	return nil
}

// Tokens splits text into whitespace-delimited tokens. The same tokenization
// is used for chunk boundaries and for context budget accounting so the two
// never disagree.
func Tokens(text string) []string {
	return strings.Fields(text)
}

// CountTokens returns the token count of text.
func CountTokens(text string) int {
	return len(Tokens(text))
}

// Split chunks a document's text into an ordered sequence of chunks. Each
// chunk holds at most MaxTokens tokens and every chunk after the first
// repeats the last OverlapTokens tokens of its predecessor. Text shorter
// than MaxTokens yields exactly one chunk.
func Split(documentID, text string, cfg Config) ([]domain.Chunk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if documentID == "" {
		return nil, domain.NewDomainError(domain.ErrCodeInvalidInput, "document ID is required")
	}

	tokens := Tokens(text)
	if len(tokens) == 0 {
		return nil, domain.ErrEmptyDocument
	}

	step := cfg.MaxTokens - cfg.OverlapTokens
	chunks := make([]domain.Chunk, 0, len(tokens)/step+1)

	for start := 0; start < len(tokens); start += step {
		end := start + cfg.MaxTokens
		if end > len(tokens) {
			end = len(tokens)
		}

		ordinal := len(chunks)
		span := tokens[start:end]
		chunks = append(chunks, domain.Chunk{
			ID:         domain.ChunkID(documentID, ordinal),
			DocumentID: documentID,
			Ordinal:    ordinal,
			Text:       strings.Join(span, " "),
			TokenCount: len(span),
		})

		if end >= len(tokens) {
			break
		}
	}

	for i := range chunks {
		if i > 0 {
			chunks[i].PrevID = chunks[i-1].ID
		}
		if i < len(chunks)-1 {
			chunks[i].NextID = chunks[i+1].ID
		}
	}

	return chunks, nil
}
