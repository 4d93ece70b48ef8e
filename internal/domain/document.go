package domain

import (
	"fmt"
	"time"
)

// Document is a registered source document whose text has already been
// extracted and cleaned by the document-management layer.
type Document struct {
	ID         string
	Text       string
	Revision   int64
	ChunkCount int
	IndexedAt  time.Time
}

// ValidateDocument validates a Document before it enters the index pipeline.
func ValidateDocument(d *Document) error {
	if d == nil {
		return fmt.Errorf("document cannot be nil")
	}
	if d.ID == "" {
		return NewDomainError(ErrCodeInvalidInput, "document ID is required")
	}
	if d.Text == "" {
		return ErrEmptyDocument
	}
	if d.Revision < 0 {
		return NewDomainError(ErrCodeInvalidInput, "document revision cannot be negative")
	}
	return nil
}

// Chunk is a bounded span of a document's text used as the unit of retrieval.
// Consecutive chunks of the same document overlap by a configured number of
// tokens; Prev and Next record that adjacency.
type Chunk struct {
	ID         string
	DocumentID string
	Ordinal    int
	Text       string
	TokenCount int
	PrevID     string
	NextID     string
}

// ChunkID derives the deterministic id for a document chunk. Re-chunking the
// same document always yields the same ids.
func ChunkID(documentID string, ordinal int) string {
	return fmt.Sprintf("doc_%s_chunk_%d", documentID, ordinal)
}
