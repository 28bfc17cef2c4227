package processor

import (
	"strings"

	"github.com/visdoc/visdoc/internal/models"
)

type ProcessorConfig struct {
	ChunkSize    int // window length in runes
	ChunkOverlap int // runes shared between adjacent chunks
}

// Processor splits recognized page text into overlapping chunks for
// embedding. The window slides by ChunkSize-ChunkOverlap runes, so the
// spans cover the text end-to-end: concatenating them and dropping
// each span's leading overlap reconstructs the original text.
type Processor struct {
	config ProcessorConfig
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.ChunkSize <= 0 {
		config.ChunkSize = 300
	}
	if config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = config.ChunkSize - 1
	}
	if config.ChunkOverlap < 0 {
		config.ChunkOverlap = 0
	}

	return Processor{config: config}
}

// Chunk returns the sliding-window spans of text. Whitespace-only
// input produces no chunks.
func (p *Processor) Chunk(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	window := p.config.ChunkSize
	stride := window - p.config.ChunkOverlap

	var chunks []string
	for start := 0; start < len(runes); start += stride {
		end := start + window
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}

	return chunks
}

// Process chunks one page's recognized text and tags every chunk with
// the {document id, page index, chunk index} metadata the store keys on.
func (p *Processor) Process(docID string, pageIndex int, text string) []models.Chunk {
	spans := p.Chunk(text)

	chunks := make([]models.Chunk, 0, len(spans))
	for i, span := range spans {
		chunks = append(chunks, models.Chunk{
			DocumentID: docID,
			PageIndex:  pageIndex,
			Index:      i,
			Content:    span,
			Metadata: map[string]interface{}{
				"pdf_md5":  docID,
				"page_num": pageIndex,
				"chunk":    i,
				"source":   "pdf_vl_extraction",
			},
		})
	}

	return chunks
}
