package query_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visdoc/visdoc/internal/models"
	"github.com/visdoc/visdoc/pkg/query"
)

type fakeCompleter struct {
	CompleteFn func(ctx context.Context, system, user string) (string, error)
	calls      int
}

func (f *fakeCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	f.calls++
	if f.CompleteFn != nil {
		return f.CompleteFn(ctx, system, user)
	}
	return "翻译后的问题", nil
}

type fakeEmbedder struct {
	EmbedFn func(ctx context.Context, texts []string) ([][]float32, error)
}

func (f *fakeEmbedder) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if f.EmbedFn != nil {
		return f.EmbedFn(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type fakeStore struct {
	SearchFn func(ctx context.Context, embedding []float32, topK int) ([]models.Reference, error)
}

func (f *fakeStore) Search(ctx context.Context, embedding []float32, topK int) ([]models.Reference, error) {
	return f.SearchFn(ctx, embedding, topK)
}

func (f *fakeStore) ReplaceDocument(context.Context, string, []models.Chunk) error { return nil }
func (f *fakeStore) DeleteDocument(context.Context, string) error                  { return nil }
func (f *fakeStore) Close()                                                        {}

type fakeVision struct {
	RecognizeFn func(ctx context.Context, images [][]byte, prompt string) (string, error)
	lastImages  [][]byte
	lastPrompt  string
}

func (f *fakeVision) Recognize(ctx context.Context, images [][]byte, prompt string) (string, error) {
	f.lastImages = images
	f.lastPrompt = prompt
	if f.RecognizeFn != nil {
		return f.RecognizeFn(ctx, images, prompt)
	}
	return "the answer", nil
}

type fakeImages struct {
	LoadFn func(docID, imageMD5 string) ([]byte, error)
}

func (f *fakeImages) LoadImage(docID, imageMD5 string) ([]byte, error) {
	if f.LoadFn != nil {
		return f.LoadFn(docID, imageMD5)
	}
	return []byte("png bytes for " + imageMD5), nil
}

func storeWithRefs(refs []models.Reference) *fakeStore {
	return &fakeStore{
		SearchFn: func(_ context.Context, _ []float32, topK int) ([]models.Reference, error) {
			if len(refs) > topK {
				return refs[:topK], nil
			}
			return refs, nil
		},
	}
}

func sampleRefs() []models.Reference {
	return []models.Reference{
		{DocumentID: "doc-a", PageIndex: 2, ChunkIndex: 0, ImageMD5: "img-a2", Content: "产品X是一种传感器", Score: 0.91},
		{DocumentID: "doc-a", PageIndex: 3, ChunkIndex: 1, ImageMD5: "img-a3", Content: "产品X的参数", Score: 0.77},
	}
}

func newPipeline(c *fakeCompleter, e *fakeEmbedder, s *fakeStore, v *fakeVision, img *fakeImages) *query.Pipeline {
	return query.NewWithConfig(query.PipelineConfig{TopK: 3}, c, e, s, v, img)
}

func TestAskTranslatesAndAnswers(t *testing.T) {
	completer := &fakeCompleter{}
	vision := &fakeVision{}
	p := newPipeline(completer, &fakeEmbedder{}, storeWithRefs(sampleRefs()), vision, &fakeImages{})

	result, err := p.Ask(context.Background(), "What is product X?", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, completer.calls)
	assert.Equal(t, "翻译后的问题", result.TranslatedQuestion)
	assert.Equal(t, "the answer", result.Answer)
	assert.False(t, result.NoMatch)
	require.Len(t, result.References, 2)
	assert.Equal(t, "doc-a", result.References[0].DocumentID)
	assert.Equal(t, 2, result.References[0].PageIndex)

	// The original question, not the translated one, goes to the
	// vision model, together with the top page render.
	assert.Contains(t, vision.lastPrompt, "What is product X?")
	require.Len(t, vision.lastImages, 1)
	assert.Equal(t, []byte("png bytes for img-a2"), vision.lastImages[0])
}

func TestAskSkipsTranslationForChinese(t *testing.T) {
	completer := &fakeCompleter{}
	p := newPipeline(completer, &fakeEmbedder{}, storeWithRefs(sampleRefs()), &fakeVision{}, &fakeImages{})

	result, err := p.Ask(context.Background(), "什么是产品X？", nil)
	require.NoError(t, err)

	assert.Equal(t, 0, completer.calls)
	assert.Equal(t, "什么是产品X？", result.TranslatedQuestion)
}

func TestAskTranslationFailureFailsFast(t *testing.T) {
	completer := &fakeCompleter{
		CompleteFn: func(_ context.Context, _, _ string) (string, error) {
			return "", fmt.Errorf("completion service down")
		},
	}
	store := &fakeStore{
		SearchFn: func(_ context.Context, _ []float32, _ int) ([]models.Reference, error) {
			t.Fatal("retrieval must not run after translation failure")
			return nil, nil
		},
	}
	p := newPipeline(completer, &fakeEmbedder{}, store, &fakeVision{}, &fakeImages{})

	_, err := p.Ask(context.Background(), "What is product X?", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTranslationFail)
}

func TestAskNoMatch(t *testing.T) {
	p := newPipeline(&fakeCompleter{}, &fakeEmbedder{}, storeWithRefs(nil), &fakeVision{}, &fakeImages{})

	result, err := p.Ask(context.Background(), "什么是产品Y？", nil)
	require.NoError(t, err)
	assert.True(t, result.NoMatch)
	assert.Empty(t, result.Answer)
	assert.Empty(t, result.References)
}

func TestAskSynthesisFailure(t *testing.T) {
	vision := &fakeVision{
		RecognizeFn: func(_ context.Context, _ [][]byte, _ string) (string, error) {
			return "", fmt.Errorf("vision service down")
		},
	}
	p := newPipeline(&fakeCompleter{}, &fakeEmbedder{}, storeWithRefs(sampleRefs()), vision, &fakeImages{})

	_, err := p.Ask(context.Background(), "什么是产品X？", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrAnswerGeneration)
}

func TestAskWithUserImage(t *testing.T) {
	vision := &fakeVision{}
	p := newPipeline(&fakeCompleter{}, &fakeEmbedder{}, storeWithRefs(sampleRefs()), vision, &fakeImages{})

	_, err := p.Ask(context.Background(), "这张图上的产品是什么？", []byte("user photo"))
	require.NoError(t, err)

	require.Len(t, vision.lastImages, 2)
	assert.Equal(t, []byte("user photo"), vision.lastImages[0])
}

func TestAskMissingPageImageDegrades(t *testing.T) {
	vision := &fakeVision{}
	images := &fakeImages{
		LoadFn: func(_, _ string) ([]byte, error) {
			return nil, fmt.Errorf("file not found")
		},
	}
	p := newPipeline(&fakeCompleter{}, &fakeEmbedder{}, storeWithRefs(sampleRefs()), vision, images)

	result, err := p.Ask(context.Background(), "什么是产品X？", nil)
	require.NoError(t, err)
	assert.Equal(t, "the answer", result.Answer)
	assert.Empty(t, vision.lastImages)
}

func TestAskEmptyQuestion(t *testing.T) {
	p := newPipeline(&fakeCompleter{}, &fakeEmbedder{}, storeWithRefs(nil), &fakeVision{}, &fakeImages{})

	_, err := p.Ask(context.Background(), "   ", nil)
	assert.Error(t, err)
}

func TestAskExactMatchRetrieved(t *testing.T) {
	// The store fake ranks by dot product so a question embedded to
	// the indexed chunk's vector must surface that chunk in topK.
	indexed := []models.Reference{
		{DocumentID: "doc-a", PageIndex: 0, Content: "目标内容", Score: 1.0},
		{DocumentID: "doc-b", PageIndex: 1, Content: "其他内容", Score: 0.2},
	}
	p := newPipeline(&fakeCompleter{}, &fakeEmbedder{}, storeWithRefs(indexed), &fakeVision{}, &fakeImages{})

	result, err := p.Ask(context.Background(), "目标内容", nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.References)
	assert.Equal(t, "目标内容", result.References[0].Content)
}
