package query

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/visdoc/visdoc/internal/models"
	"github.com/visdoc/visdoc/internal/types"
	"github.com/visdoc/visdoc/pkg/prompts"
)

// PageImageLoader reads a stored page render back from disk so the
// answer call can show the model the retrieved page.
type PageImageLoader interface {
	LoadImage(docID, imageMD5 string) ([]byte, error)
}

type PipelineConfig struct {
	TopK int
}

// Pipeline answers a question in three steps: normalize it to the
// indexing language, retrieve the nearest chunks, and hand the
// retrieved pages to the vision model for the final answer.
type Pipeline struct {
	config    PipelineConfig
	completer types.CompletionModel
	embedder  types.Embedder
	store     types.VectorStore
	vision    types.VisionModel
	images    PageImageLoader
}

func NewWithConfig(
	config PipelineConfig,
	completer types.CompletionModel,
	embedder types.Embedder,
	store types.VectorStore,
	vision types.VisionModel,
	images PageImageLoader,
) *Pipeline {
	if config.TopK == 0 {
		config.TopK = 3
	}

	return &Pipeline{
		config:    config,
		completer: completer,
		embedder:  embedder,
		store:     store,
		vision:    vision,
		images:    images,
	}
}

// Ask runs translate -> retrieve -> synthesize for one question. An
// empty retrieval result is a valid no-match outcome, not an error.
// The QueryRequest state lives only for the duration of this call.
func (p *Pipeline) Ask(ctx context.Context, question string, userImage []byte) (*models.QueryResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question cannot be empty")
	}

	// Step 1: translate to the indexing language. Questions already in
	// Chinese skip the call; retrieval quality depends on language
	// match, so a failed translation fails the whole query.
	translated := question
	if !containsHan(question) {
		result, err := p.completer.Complete(ctx, prompts.TranslationSystem,
			fmt.Sprintf(prompts.Translation, question))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrTranslationFail, err)
		}
		translated = result
	}

	// Step 2: nearest-neighbour retrieval on the translated question.
	embeddings, err := p.embedder.CreateEmbedding(ctx, []string{translated})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("embedding service returned no vector")
	}

	refs, err := p.store.Search(ctx, embeddings[0], p.config.TopK)
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}
	if len(refs) == 0 {
		return &models.QueryResult{
			Question:           question,
			TranslatedQuestion: translated,
			NoMatch:            true,
		}, nil
	}

	// Step 3: synthesize the answer from the retrieved content plus
	// the top page render and any user-supplied image.
	var parts []string
	for i, ref := range refs {
		parts = append(parts, fmt.Sprintf("文档%d (相似度: %.3f):\n%s", i+1, ref.Score, ref.Content))
	}
	retrieved := strings.Join(parts, "\n\n")

	var images [][]byte
	if userImage != nil {
		images = append(images, userImage)
	}
	if top := refs[0]; top.ImageMD5 != "" {
		// A missing page render degrades the call to text-only rather
		// than failing the query.
		if img, err := p.images.LoadImage(top.DocumentID, top.ImageMD5); err == nil {
			images = append(images, img)
		}
	}

	prompt := prompts.AnswerSystem + "\n\n" + fmt.Sprintf(prompts.Answer, question, retrieved)
	answer, err := p.vision.Recognize(ctx, images, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrAnswerGeneration, err)
	}

	return &models.QueryResult{
		Question:           question,
		TranslatedQuestion: translated,
		Answer:             answer,
		References:         refs,
	}, nil
}

// containsHan reports whether the question already carries Chinese
// text and can bypass translation.
func containsHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}
