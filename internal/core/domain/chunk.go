package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

type Chunk struct {
	ID              string         `json:"id"`
	DocumentID      int64          `json:"document_id"`
	KnowledgeBaseID int64          `json:"knowledge_base_id"`
	Text            string         `json:"text"`
	Hash            string         `json:"hash"`
	Metadata        map[string]any `json:"meta,omitempty"`
	Score           float64        `json:"score"`
}

// FilterMetadata is the record filters are evaluated against: Metadata with
// a non-zero DocumentID set under MetaDocumentID. Metadata is not modified.
func (c Chunk) FilterMetadata() map[string]any {
	if c.DocumentID == 0 {
		return c.Metadata
	}
	out := make(map[string]any, len(c.Metadata)+1)
	for k, v := range c.Metadata {
		out[k] = v
	}
	out[MetaDocumentID] = c.DocumentID
	return out
}

type Document struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	SourceURI string `json:"source_uri,omitempty"`
	Content   string `json:"content,omitempty"`
}

// DocumentRef is the lightweight descriptor returned to callers and persisted as sources.
type DocumentRef struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	SourceURI string `json:"source_uri,omitempty"`
}

func (d Document) Ref() DocumentRef {
	return DocumentRef{ID: d.ID, Name: d.Name, SourceURI: d.SourceURI}
}

type ChunkResult struct {
	Chunks    []Chunk    `json:"chunks"`
	Documents []Document `json:"documents"`
}

// ChunkHash is the content hash used to merge duplicate chunks.
func ChunkHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
