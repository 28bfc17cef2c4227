package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/visdoc/visdoc/internal/models"
	"github.com/visdoc/visdoc/internal/types"
	cfgPkg "github.com/visdoc/visdoc/pkg/config"
	"github.com/visdoc/visdoc/pkg/ingest"
	"github.com/visdoc/visdoc/pkg/llm"
	"github.com/visdoc/visdoc/pkg/query"
	"github.com/visdoc/visdoc/pkg/splitter"
	"github.com/visdoc/visdoc/pkg/store"
	"github.com/visdoc/visdoc/server"
)

type Flags struct {
	ConfigPath string
	Serve      bool
	IngestPath string
	DBUrl      string
	VisionURL  string
	LLMURL     string
	OllamaURL  string
	ResultPath string
	Port       string
}

func main() {
	flags := parseFlags()

	cfg, err := cfgPkg.LoadConfig(flags.ConfigPath)
	if err != nil {
		log.Fatal(err)
	}
	mergeFlags(cfg, flags)

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %s: %s", e.Field, e.Message)
		}
		os.Exit(1)
	}

	if err := run(cfg, flags); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() Flags {
	var flags Flags

	flag.StringVar(&flags.ConfigPath, "config", "", "Path to config file")
	flag.BoolVar(&flags.Serve, "serve", false, "Start the HTTP server")
	flag.StringVar(&flags.IngestPath, "ingest", "", "PDF file to ingest")
	flag.StringVar(&flags.DBUrl, "db-url", "", "PostgreSQL connection string")
	flag.StringVar(&flags.VisionURL, "vlm-url", "", "Vision-language API base URL")
	flag.StringVar(&flags.LLMURL, "llm-url", "", "Completion API base URL")
	flag.StringVar(&flags.OllamaURL, "ollama-url", "", "Ollama server URL for embeddings")
	flag.StringVar(&flags.ResultPath, "result-path", "", "Directory for rendered page images")
	flag.StringVar(&flags.Port, "port", "", "HTTP server port")
	flag.Parse()

	return flags
}

// mergeFlags applies command line overrides on top of the loaded
// config file.
func mergeFlags(cfg *cfgPkg.Config, flags Flags) {
	if flags.DBUrl != "" {
		cfg.Database.URL = flags.DBUrl
	}
	if flags.VisionURL != "" {
		cfg.Vision.BaseURL = flags.VisionURL
	}
	if flags.LLMURL != "" {
		cfg.LLM.BaseURL = flags.LLMURL
	}
	if flags.OllamaURL != "" {
		cfg.Embedding.BaseURL = flags.OllamaURL
	}
	if flags.ResultPath != "" {
		cfg.Storage.ResultPath = flags.ResultPath
	}
	if flags.Port != "" {
		cfg.Server.Port = flags.Port
	}
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("pages"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func run(cfg *cfgPkg.Config, flags Flags) error {
	pageSplitter := splitter.NewWithConfig(types.SplitterConfig{
		ResultPath:  cfg.Storage.ResultPath,
		DPI:         cfg.Storage.DPI,
		MaxFileSize: cfg.Storage.MaxFileSizeMB << 20,
	})

	vision, err := llm.NewVisionWithConfig(llm.VisionConfig{
		BaseURL:   cfg.Vision.BaseURL,
		Model:     cfg.Vision.Model,
		MaxTokens: cfg.LLM.MaxTokens,
		Timeout:   time.Duration(cfg.Vision.TimeoutMS) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize vision client: %v", err)
	}

	completer, err := llm.NewCompletionWithConfig(llm.CompletionConfig{
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     time.Duration(cfg.LLM.TimeoutMS) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize completion client: %v", err)
	}

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:   cfg.Embedding.Model,
		BaseURL: cfg.Embedding.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %v", err)
	}

	vectorStore, err := store.NewWithConfig(store.VectorStoreConfig{
		ConnString: cfg.Database.URL,
		TableName:  cfg.Database.TableName,
		VectorDim:  cfg.Database.VectorDim,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize vector store: %v", err)
	}
	defer vectorStore.Close()

	ingestPipeline := ingest.NewWithConfig(ingest.PipelineConfig{
		ChunkSize:    cfg.Ingest.ChunkSize,
		ChunkOverlap: cfg.Ingest.ChunkOverlap,
		Workers:      cfg.Ingest.Workers,
		RateLimit:    cfg.Ingest.RateLimit,
	}, pageSplitter, vision, completer, embedder, vectorStore)

	queryPipeline := query.NewWithConfig(query.PipelineConfig{
		TopK: cfg.Query.TopK,
	}, completer, embedder, vectorStore, vision, pageSplitter)

	if flags.Serve {
		srv := server.New(server.Config{
			Port:   cfg.Server.Port,
			Prefix: cfg.Server.Prefix,
		}, ingestPipeline, queryPipeline)
		return srv.ListenAndServe()
	}

	if flags.IngestPath != "" {
		if err := runIngest(ingestPipeline, flags.IngestPath); err != nil {
			return err
		}
	}

	return runChat(queryPipeline)
}

func runIngest(pipeline *ingest.Pipeline, path string) error {
	pdfBytes, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %v", path, err)
	}

	filename := filepath.Base(path)
	docID := splitter.DocumentID(pdfBytes)
	color.Blue("\nIngesting %s (document %s)\n", filename, docID)

	bar := getProgressBar(-1, "Recognizing pages...")
	done := make(chan struct{})
	go func() {
		// The job appears once the pipeline registers it; poll until
		// ingestion finishes.
		for {
			select {
			case <-done:
				return
			case <-time.After(200 * time.Millisecond):
			}
			if snap, ok := pipeline.JobForDocument(docID); ok && snap.TotalPages > 0 {
				bar.ChangeMax(snap.TotalPages)
				bar.Set(snap.PagesProcessed + snap.PagesFailed)
			}
		}
	}()

	doc, err := pipeline.Ingest(context.Background(), pdfBytes, filename)
	close(done)
	bar.Finish()
	if err != nil {
		return fmt.Errorf("ingestion failed: %v", err)
	}

	switch doc.Status {
	case models.StatusCompleted:
		color.Green("\n✓ Ingested %d pages\n", len(doc.Pages))
	case models.StatusPartialFailure:
		color.Yellow("\n⚠ Ingested with failures: some pages could not be recognized\n")
	default:
		color.Red("\n✗ Ingestion finished with status %s\n", doc.Status)
	}

	if doc.Summary != "" {
		color.Cyan("\nSummary:\n%s\n", doc.Summary)
	}

	return nil
}

func runChat(pipeline *query.Pipeline) error {
	color.Cyan("\nAsk questions about your documents (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if strings.ToLower(question) == "exit" {
			break
		}

		spinner := getSpinner("Searching documents...")
		result, err := pipeline.Ask(context.Background(), question, nil)
		spinner.Finish()
		fmt.Print("\r")

		if err != nil {
			color.Red("Error: %v\n", err)
			continue
		}

		if result.NoMatch {
			assistantPrompt("Assistant: no relevant content found\n")
			continue
		}

		assistantPrompt("Assistant: %s\n", result.Answer)
		for _, ref := range result.References {
			color.New(color.Faint).Printf("  [%s page %d, score %.3f]\n",
				ref.DocumentID, ref.PageIndex+1, ref.Score)
		}
	}

	return nil
}
