package ingest

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/visdoc/visdoc/internal/models"
	"github.com/visdoc/visdoc/internal/types"
	"github.com/visdoc/visdoc/pkg/processor"
	"github.com/visdoc/visdoc/pkg/prompts"
)

type PipelineConfig struct {
	ChunkSize    int
	ChunkOverlap int
	Workers      int     // bound for concurrent page recognition
	RateLimit    float64 // vision-language calls per second
}

// Pipeline runs one document through split -> recognize -> index ->
// integrate. Stages are strictly ordered: a stage starts only after
// the previous one finished for every page, and recognized text is
// reassembled by page index regardless of call completion order.
type Pipeline struct {
	config    PipelineConfig
	splitter  types.PageSplitter
	vision    types.VisionModel
	completer types.CompletionModel
	embedder  types.Embedder
	store     types.VectorStore
	processor processor.Processor
	limiter   *rate.Limiter

	mu        sync.Mutex
	jobs      map[string]*models.IngestionJob
	jobsByDoc map[string]string
}

func NewWithConfig(
	config PipelineConfig,
	splitter types.PageSplitter,
	vision types.VisionModel,
	completer types.CompletionModel,
	embedder types.Embedder,
	store types.VectorStore,
) *Pipeline {
	if config.ChunkSize == 0 {
		config.ChunkSize = 300
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = 30
	}
	if config.Workers == 0 {
		config.Workers = 4
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2.0
	}

	return &Pipeline{
		config:    config,
		splitter:  splitter,
		vision:    vision,
		completer: completer,
		embedder:  embedder,
		store:     store,
		processor: processor.NewWithConfig(processor.ProcessorConfig{
			ChunkSize:    config.ChunkSize,
			ChunkOverlap: config.ChunkOverlap,
		}),
		limiter:   rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		jobs:      make(map[string]*models.IngestionJob),
		jobsByDoc: make(map[string]string),
	}
}

// Job returns a snapshot of the ingestion job with the given id.
func (p *Pipeline) Job(id string) (models.JobSnapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	job, ok := p.jobs[id]
	if !ok {
		return models.JobSnapshot{}, false
	}
	return job.Snapshot(), true
}

// JobForDocument returns the most recent job for a document id.
func (p *Pipeline) JobForDocument(docID string) (models.JobSnapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	jobID, ok := p.jobsByDoc[docID]
	if !ok {
		return models.JobSnapshot{}, false
	}
	return p.jobs[jobID].Snapshot(), true
}

func (p *Pipeline) register(job *models.IngestionJob) {
	p.mu.Lock()
	p.jobs[job.ID] = job
	if job.DocumentID != "" {
		p.jobsByDoc[job.DocumentID] = job.ID
	}
	p.mu.Unlock()
}

// Ingest runs the full pipeline for one uploaded PDF. Jobs for
// distinct documents are independent; callers may run them in
// parallel.
func (p *Pipeline) Ingest(ctx context.Context, pdf []byte, filename string) (*models.Document, error) {
	sum := md5.Sum(pdf)
	docID := hex.EncodeToString(sum[:])

	job := models.NewIngestionJob(uuid.NewString(), filename)
	job.DocumentID = docID
	p.register(job)

	doc := &models.Document{
		ID:         docID,
		Filename:   filename,
		UploadedAt: time.Now(),
		Status:     models.StatusRunning,
	}
	job.SetStatus(models.StatusRunning)

	// Stage 1: split
	pages, err := p.splitter.Split(ctx, pdf, docID)
	if err != nil {
		if ctx.Err() != nil {
			job.SetStatus(models.StatusCancelled)
			return nil, ctx.Err()
		}
		job.Fail(err)
		doc.Status = models.StatusFailed
		return nil, &models.StageError{DocumentID: docID, Stage: models.StageSplit, Err: err}
	}
	job.SetTotalPages(len(pages))

	if err := p.checkpoint(ctx, job); err != nil {
		return nil, err
	}

	// Stage 2: recognize, bounded fan-out, results keyed by page index
	job.Advance(models.StageRecognize)
	p.recognizePages(ctx, job, pages)
	if err := p.checkpoint(ctx, job); err != nil {
		return nil, err
	}

	var failed, succeeded int
	for i := range pages {
		if pages[i].Err != nil {
			failed++
		} else {
			succeeded++
		}
	}

	if succeeded == 0 {
		// Nothing recognizable came out of any page; the document is
		// unusable for retrieval or integration.
		err := fmt.Errorf("%w: all %d pages failed", models.ErrRecognitionFail, failed)
		job.Fail(err)
		doc.Status = models.StatusFailed
		doc.Pages = pages
		return doc, &models.StageError{DocumentID: docID, Stage: models.StageRecognize, Err: err}
	}

	// Stage 3: chunk, embed, and atomically replace the chunk set
	job.Advance(models.StageIndex)
	if err := p.indexPages(ctx, docID, pages); err != nil {
		if ctx.Err() != nil {
			job.SetStatus(models.StatusCancelled)
			return nil, ctx.Err()
		}
		wrapped := fmt.Errorf("%w: %v", models.ErrIndexingFailed, err)
		job.Fail(wrapped)
		doc.Status = models.StatusFailed
		doc.Pages = pages
		return doc, &models.StageError{DocumentID: docID, Stage: models.StageIndex, Err: wrapped}
	}
	if err := p.checkpoint(ctx, job); err != nil {
		return nil, err
	}

	// Stage 4: integrate (non-fatal; skipped when there is no text)
	job.Advance(models.StageIntegrate)
	combined := combinePageTexts(pages)
	if combined != "" {
		summary, err := p.completer.Complete(ctx, prompts.IntegrationSystem,
			fmt.Sprintf(prompts.Integration, combined))
		if err != nil {
			if ctx.Err() != nil {
				job.SetStatus(models.StatusCancelled)
				return nil, ctx.Err()
			}
			job.SetErr(fmt.Errorf("%w: %v", models.ErrIntegrationFail, err))
		} else {
			doc.Summary = summary
		}
	}

	job.Advance(models.StageDone)
	doc.Pages = pages
	if failed > 0 {
		doc.Status = models.StatusPartialFailure
		job.SetStatus(models.StatusPartialFailure)
	} else {
		doc.Status = models.StatusCompleted
		job.SetStatus(models.StatusCompleted)
	}

	return doc, nil
}

// checkpoint is the cooperative cancellation point between stages.
func (p *Pipeline) checkpoint(ctx context.Context, job *models.IngestionJob) error {
	if err := ctx.Err(); err != nil {
		job.SetStatus(models.StatusCancelled)
		return err
	}
	return nil
}

// recognizePages runs per-page vision calls through a bounded worker
// pool. Each worker writes only its own page slot, so text is
// reassembled by index no matter which call finishes first. A page
// failure is recorded on the page and never aborts the group.
func (p *Pipeline) recognizePages(ctx context.Context, job *models.IngestionJob, pages []models.Page) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Workers)

	for i := range pages {
		i := i
		g.Go(func() error {
			if err := p.limiter.Wait(gctx); err != nil {
				pages[i].Err = err
				job.PageDone(true)
				return nil
			}

			text, err := p.vision.Recognize(gctx, [][]byte{pages[i].Image}, prompts.PageRecognition)
			if err != nil {
				pages[i].Err = fmt.Errorf("%w: page %d: %v", models.ErrRecognitionFail, i, err)
				job.PageDone(true)
				return nil
			}

			pages[i].Text = text
			job.PageDone(false)
			return nil
		})
	}

	// Workers never return errors; Wait only synchronizes.
	_ = g.Wait()
}

// indexPages chunks and embeds every page with non-empty recognized
// text and swaps the document's chunk set in one store transaction.
func (p *Pipeline) indexPages(ctx context.Context, docID string, pages []models.Page) error {
	var chunks []models.Chunk
	for i := range pages {
		if pages[i].Err != nil || strings.TrimSpace(pages[i].Text) == "" {
			continue
		}
		pageChunks := p.processor.Process(docID, pages[i].Index, pages[i].Text)
		for j := range pageChunks {
			pageChunks[j].Metadata["img_md5"] = pages[i].ImageMD5
		}
		pages[i].Chunks = pageChunks
		chunks = append(chunks, pageChunks...)
	}

	if len(chunks) == 0 {
		// Every recognized page was empty. Replacing with an empty set
		// keeps re-ingestion semantics: the latest run always wins.
		return p.store.ReplaceDocument(ctx, docID, nil)
	}

	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Content
	}

	embeddings, err := p.embedder.CreateEmbedding(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed chunks: %v", err)
	}
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("embedding count %d does not match chunk count %d",
			len(embeddings), len(chunks))
	}
	for i := range chunks {
		chunks[i].Embedding = embeddings[i]
	}

	return p.store.ReplaceDocument(ctx, docID, chunks)
}

// combinePageTexts concatenates recognized text in page order. Pages
// that failed recognition contribute nothing.
func combinePageTexts(pages []models.Page) string {
	var parts []string
	for i := range pages {
		if pages[i].Err == nil && strings.TrimSpace(pages[i].Text) != "" {
			parts = append(parts, pages[i].Text)
		}
	}
	return strings.Join(parts, "\n\n")
}
