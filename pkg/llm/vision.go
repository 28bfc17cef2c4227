package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// VisionConfig represents the configuration for the vision-language
// client. The endpoint is an OpenAI-compatible chat-completions API
// (vllm serving a VL model).
type VisionConfig struct {
	BaseURL   string
	Model     string
	Token     string
	MaxTokens int
	Timeout   time.Duration
}

// VisionClient sends page renders (and optional user images) to the
// vision-language service.
type VisionClient struct {
	config VisionConfig
	llm    llms.Model
}

func NewVisionWithConfig(config VisionConfig) (*VisionClient, error) {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:58123/v1"
	}
	if config.Model == "" {
		config.Model = "/function/vllm/model"
	}
	if config.Token == "" {
		config.Token = "EMPTY" // vllm ignores the key but the client requires one
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Minute
	}

	model, err := openai.New(
		openai.WithModel(config.Model),
		openai.WithBaseURL(config.BaseURL),
		openai.WithToken(config.Token),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vision client: %w", err)
	}

	return &VisionClient{
		config: config,
		llm:    model,
	}, nil
}

// Recognize submits the images with an instructional prompt and
// returns the generated text. An empty or malformed response is an
// error so the caller can record the page as failed.
func (vc *VisionClient) Recognize(ctx context.Context, images [][]byte, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, vc.config.Timeout)
	defer cancel()

	parts := make([]llms.ContentPart, 0, len(images)+1)
	for _, img := range images {
		dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(img)
		parts = append(parts, llms.ImageURLPart(dataURL))
	}
	parts = append(parts, llms.TextPart(prompt))

	content := []llms.MessageContent{
		{Role: llms.ChatMessageTypeHuman, Parts: parts},
	}

	response, err := vc.llm.GenerateContent(ctx, content, llms.WithMaxTokens(vc.config.MaxTokens))
	if err != nil {
		return "", fmt.Errorf("vision request failed: %w", err)
	}

	var textParts []string
	for _, choice := range response.Choices {
		if choice != nil && choice.Content != "" {
			textParts = append(textParts, choice.Content)
		}
	}
	if len(textParts) == 0 {
		return "", fmt.Errorf("vision response contained no content")
	}

	return strings.Join(textParts, "\n"), nil
}
