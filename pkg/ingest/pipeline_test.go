package ingest_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visdoc/visdoc/internal/models"
	"github.com/visdoc/visdoc/pkg/ingest"
)

// Fakes for the external collaborators, function-field style so each
// test overrides only what it needs.

type fakeSplitter struct {
	SplitFn func(ctx context.Context, pdf []byte, docID string) ([]models.Page, error)
}

func (f *fakeSplitter) Split(ctx context.Context, pdf []byte, docID string) ([]models.Page, error) {
	return f.SplitFn(ctx, pdf, docID)
}

func pagesForDoc(docID string, n int) []models.Page {
	pages := make([]models.Page, n)
	for i := 0; i < n; i++ {
		pages[i] = models.Page{
			DocumentID: docID,
			Index:      i,
			Image:      []byte(fmt.Sprintf("page-%d", i)),
			ImageMD5:   fmt.Sprintf("img-%d", i),
		}
	}
	return pages
}

func splitterWithPages(n int) *fakeSplitter {
	return &fakeSplitter{
		SplitFn: func(_ context.Context, _ []byte, docID string) ([]models.Page, error) {
			return pagesForDoc(docID, n), nil
		},
	}
}

type fakeVision struct {
	RecognizeFn func(ctx context.Context, images [][]byte, prompt string) (string, error)
}

func (f *fakeVision) Recognize(ctx context.Context, images [][]byte, prompt string) (string, error) {
	return f.RecognizeFn(ctx, images, prompt)
}

// visionEcho recognizes each page image as "text for <image bytes>".
func visionEcho() *fakeVision {
	return &fakeVision{
		RecognizeFn: func(_ context.Context, images [][]byte, _ string) (string, error) {
			return "text for " + string(images[0]), nil
		},
	}
}

type fakeCompleter struct {
	mu         sync.Mutex
	CompleteFn func(ctx context.Context, system, user string) (string, error)
	calls      []string
}

func (f *fakeCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, user)
	f.mu.Unlock()
	if f.CompleteFn != nil {
		return f.CompleteFn(ctx, system, user)
	}
	return "integrated summary", nil
}

func (f *fakeCompleter) lastCall() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1]
}

type fakeEmbedder struct {
	EmbedFn func(ctx context.Context, texts []string) ([][]float32, error)
}

func (f *fakeEmbedder) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if f.EmbedFn != nil {
		return f.EmbedFn(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1, 0}
	}
	return out, nil
}

type fakeStore struct {
	mu        sync.Mutex
	ReplaceFn func(ctx context.Context, docID string, chunks []models.Chunk) error
	docs      map[string][]models.Chunk
	replaces  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[string][]models.Chunk)}
}

func (f *fakeStore) ReplaceDocument(ctx context.Context, docID string, chunks []models.Chunk) error {
	if f.ReplaceFn != nil {
		return f.ReplaceFn(ctx, docID, chunks)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[docID] = chunks
	f.replaces++
	return nil
}

func (f *fakeStore) DeleteDocument(_ context.Context, docID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, docID)
	return nil
}

func (f *fakeStore) Search(_ context.Context, _ []float32, _ int) ([]models.Reference, error) {
	return nil, nil
}

func (f *fakeStore) Close() {}

func (f *fakeStore) chunksFor(docID string) []models.Chunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[docID]
}

func newPipeline(sp *fakeSplitter, v *fakeVision, c *fakeCompleter, e *fakeEmbedder, s *fakeStore) *ingest.Pipeline {
	return ingest.NewWithConfig(ingest.PipelineConfig{
		ChunkSize:    50,
		ChunkOverlap: 10,
		Workers:      2,
		RateLimit:    1000,
	}, sp, v, c, e, s)
}

func TestIngestCompleted(t *testing.T) {
	store := newFakeStore()
	completer := &fakeCompleter{}
	p := newPipeline(splitterWithPages(3), visionEcho(), completer, &fakeEmbedder{}, store)

	doc, err := p.Ingest(context.Background(), []byte("pdf bytes"), "manual.pdf")
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, doc.Status)
	assert.Equal(t, "manual.pdf", doc.Filename)
	assert.Equal(t, "integrated summary", doc.Summary)
	assert.Len(t, doc.Pages, 3)

	chunks := store.chunksFor(doc.ID)
	require.NotEmpty(t, chunks)
	pageSeen := map[int]bool{}
	for _, c := range chunks {
		assert.Equal(t, doc.ID, c.DocumentID)
		assert.NotEmpty(t, c.Embedding)
		pageSeen[c.PageIndex] = true
	}
	assert.Equal(t, map[int]bool{0: true, 1: true, 2: true}, pageSeen)

	snap, ok := p.JobForDocument(doc.ID)
	require.True(t, ok)
	assert.Equal(t, models.StatusCompleted, snap.Status)
	assert.Equal(t, 3, snap.TotalPages)
	assert.Equal(t, 3, snap.PagesProcessed)
	assert.Equal(t, 0, snap.PagesFailed)
}

func TestIngestPartialFailure(t *testing.T) {
	store := newFakeStore()
	completer := &fakeCompleter{}
	vision := &fakeVision{
		RecognizeFn: func(_ context.Context, images [][]byte, _ string) (string, error) {
			if string(images[0]) == "page-1" {
				return "", fmt.Errorf("vision call timed out")
			}
			return "text for " + string(images[0]), nil
		},
	}
	p := newPipeline(splitterWithPages(3), vision, completer, &fakeEmbedder{}, store)

	doc, err := p.Ingest(context.Background(), []byte("pdf bytes"), "manual.pdf")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPartialFailure, doc.Status)

	// Chunks exist only for the pages that recognized successfully.
	pageSeen := map[int]bool{}
	for _, c := range store.chunksFor(doc.ID) {
		pageSeen[c.PageIndex] = true
	}
	assert.Equal(t, map[int]bool{0: true, 2: true}, pageSeen)

	// Integration input was built from the surviving pages only.
	integrated := completer.lastCall()
	assert.Contains(t, integrated, "text for page-0")
	assert.Contains(t, integrated, "text for page-2")
	assert.NotContains(t, integrated, "page-1")

	snap, ok := p.JobForDocument(doc.ID)
	require.True(t, ok)
	assert.Equal(t, 1, snap.PagesFailed)
}

func TestIngestSplitFailure(t *testing.T) {
	sp := &fakeSplitter{
		SplitFn: func(_ context.Context, _ []byte, _ string) ([]models.Page, error) {
			return nil, fmt.Errorf("%w: corrupt file", models.ErrInvalidDocument)
		},
	}
	p := newPipeline(sp, visionEcho(), &fakeCompleter{}, &fakeEmbedder{}, newFakeStore())

	_, err := p.Ingest(context.Background(), []byte("garbage"), "broken.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidDocument)

	var stageErr *models.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, models.StageSplit, stageErr.Stage)
}

func TestIngestIndexingFailure(t *testing.T) {
	store := newFakeStore()
	embedder := &fakeEmbedder{
		EmbedFn: func(_ context.Context, _ []string) ([][]float32, error) {
			return nil, fmt.Errorf("embedding service unavailable")
		},
	}
	p := newPipeline(splitterWithPages(2), visionEcho(), &fakeCompleter{}, embedder, store)

	doc, err := p.Ingest(context.Background(), []byte("pdf bytes"), "manual.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrIndexingFailed)
	assert.Equal(t, models.StatusFailed, doc.Status)

	// Prior indexed state stays untouched.
	assert.Empty(t, store.chunksFor(doc.ID))
}

func TestIngestAllPagesFailed(t *testing.T) {
	store := newFakeStore()
	vision := &fakeVision{
		RecognizeFn: func(_ context.Context, _ [][]byte, _ string) (string, error) {
			return "", fmt.Errorf("service down")
		},
	}
	p := newPipeline(splitterWithPages(2), vision, &fakeCompleter{}, &fakeEmbedder{}, store)

	doc, err := p.Ingest(context.Background(), []byte("pdf bytes"), "manual.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrRecognitionFail)
	assert.Equal(t, models.StatusFailed, doc.Status)
	assert.Empty(t, store.chunksFor(doc.ID))
}

func TestIngestIntegrationFailureNonFatal(t *testing.T) {
	store := newFakeStore()
	completer := &fakeCompleter{
		CompleteFn: func(_ context.Context, _, _ string) (string, error) {
			return "", fmt.Errorf("completion service unavailable")
		},
	}
	p := newPipeline(splitterWithPages(2), visionEcho(), completer, &fakeEmbedder{}, store)

	doc, err := p.Ingest(context.Background(), []byte("pdf bytes"), "manual.pdf")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, doc.Status)
	assert.Empty(t, doc.Summary)

	// Chunks were still indexed.
	assert.NotEmpty(t, store.chunksFor(doc.ID))
}

func TestIngestEmptyTextSkipsIntegration(t *testing.T) {
	store := newFakeStore()
	completer := &fakeCompleter{}
	vision := &fakeVision{
		RecognizeFn: func(_ context.Context, _ [][]byte, _ string) (string, error) {
			return "   ", nil
		},
	}
	p := newPipeline(splitterWithPages(2), vision, completer, &fakeEmbedder{}, store)

	doc, err := p.Ingest(context.Background(), []byte("pdf bytes"), "blank.pdf")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, doc.Status)
	assert.Empty(t, doc.Summary)
	assert.Empty(t, completer.calls)
	assert.Empty(t, store.chunksFor(doc.ID))
}

func TestReingestReplacesChunks(t *testing.T) {
	store := newFakeStore()
	text := "first ingestion text"
	var mu sync.Mutex
	vision := &fakeVision{
		RecognizeFn: func(_ context.Context, _ [][]byte, _ string) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			return text, nil
		},
	}
	p := newPipeline(splitterWithPages(1), vision, &fakeCompleter{}, &fakeEmbedder{}, store)

	doc, err := p.Ingest(context.Background(), []byte("same bytes"), "doc.pdf")
	require.NoError(t, err)

	mu.Lock()
	text = "second ingestion text"
	mu.Unlock()

	doc2, err := p.Ingest(context.Background(), []byte("same bytes"), "doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, doc2.ID)

	chunks := store.chunksFor(doc.ID)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.Contains(t, c.Content, "second ingestion")
	}
}

func TestRecognitionReassembledByPageIndex(t *testing.T) {
	store := newFakeStore()
	completer := &fakeCompleter{}
	// Later pages finish first.
	vision := &fakeVision{
		RecognizeFn: func(_ context.Context, images [][]byte, _ string) (string, error) {
			var idx int
			fmt.Sscanf(string(images[0]), "page-%d", &idx)
			time.Sleep(time.Duration(30-idx*10) * time.Millisecond)
			return fmt.Sprintf("content-%d", idx), nil
		},
	}
	p := newPipeline(splitterWithPages(3), vision, completer, &fakeEmbedder{}, store)

	_, err := p.Ingest(context.Background(), []byte("pdf bytes"), "ordered.pdf")
	require.NoError(t, err)

	integrated := completer.lastCall()
	i0 := strings.Index(integrated, "content-0")
	i1 := strings.Index(integrated, "content-1")
	i2 := strings.Index(integrated, "content-2")
	require.GreaterOrEqual(t, i0, 0)
	assert.Less(t, i0, i1)
	assert.Less(t, i1, i2)
}

func TestIngestCancelled(t *testing.T) {
	store := newFakeStore()
	ctx, cancel := context.WithCancel(context.Background())

	sp := &fakeSplitter{
		SplitFn: func(_ context.Context, _ []byte, docID string) ([]models.Page, error) {
			cancel() // cancel between split and recognize
			return pagesForDoc(docID, 2), nil
		},
	}
	p := newPipeline(sp, visionEcho(), &fakeCompleter{}, &fakeEmbedder{}, store)

	doc, err := p.Ingest(ctx, []byte("pdf bytes"), "cancelled.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, doc)

	// Nothing became visible to retrieval.
	assert.Empty(t, store.docs)
}

func TestJobLookup(t *testing.T) {
	p := newPipeline(splitterWithPages(1), visionEcho(), &fakeCompleter{}, &fakeEmbedder{}, newFakeStore())

	doc, err := p.Ingest(context.Background(), []byte("pdf"), "doc.pdf")
	require.NoError(t, err)

	snap, ok := p.JobForDocument(doc.ID)
	require.True(t, ok)
	assert.Equal(t, doc.ID, snap.DocumentID)

	byID, ok := p.Job(snap.ID)
	require.True(t, ok)
	assert.Equal(t, snap.ID, byID.ID)

	_, ok = p.Job("missing")
	assert.False(t, ok)
}
