package types

import (
	"context"

	"github.com/visdoc/visdoc/internal/models"
)

// Core interfaces. Each external service is hidden behind the
// narrowest capability set a pipeline needs, so tests can substitute
// deterministic fakes for live endpoints.

// PageSplitter converts an uploaded PDF into an ordered sequence of
// rendered page images.
type PageSplitter interface {
	Split(ctx context.Context, pdf []byte, docID string) ([]models.Page, error)
}

// VisionModel sends images to the vision-language service and returns
// the recognized or generated text.
type VisionModel interface {
	Recognize(ctx context.Context, images [][]byte, prompt string) (string, error)
}

// CompletionModel is the plain-text LLM endpoint used for translation
// and document integration.
type CompletionModel interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Embedder computes one fixed-dimension vector per input text.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore is the nearest-neighbour index. ReplaceDocument swaps a
// document's whole chunk set in one transaction so retrieval never
// observes a half-written state.
type VectorStore interface {
	ReplaceDocument(ctx context.Context, docID string, chunks []models.Chunk) error
	DeleteDocument(ctx context.Context, docID string) error
	Search(ctx context.Context, embedding []float32, topK int) ([]models.Reference, error)
	Close()
}

type SplitterConfig struct {
	ResultPath  string
	DPI         int
	MaxFileSize int64 // bytes
}
