package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// CompletionConfig represents the configuration for the text
// completion client used for translation and document integration.
type CompletionConfig struct {
	BaseURL     string
	Model       string
	Token       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

type CompletionClient struct {
	config CompletionConfig
	llm    llms.Model
}

func NewCompletionWithConfig(config CompletionConfig) (*CompletionClient, error) {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:58123/v1"
	}
	if config.Model == "" {
		config.Model = "/models/qwen2.5-7b"
	}
	if config.Token == "" {
		config.Token = "EMPTY"
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.Timeout == 0 {
		config.Timeout = 2 * time.Minute
	}

	model, err := openai.New(
		openai.WithModel(config.Model),
		openai.WithBaseURL(config.BaseURL),
		openai.WithToken(config.Token),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize completion client: %w", err)
	}

	return &CompletionClient{
		config: config,
		llm:    model,
	}, nil
}

// Complete sends a system+user prompt pair and returns the generated
// text with surrounding whitespace trimmed.
func (cc *CompletionClient) Complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, cc.config.Timeout)
	defer cancel()

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}

	response, err := cc.llm.GenerateContent(ctx, content,
		llms.WithMaxTokens(cc.config.MaxTokens),
		llms.WithTemperature(cc.config.Temperature),
	)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}

	if len(response.Choices) == 0 || response.Choices[0].Content == "" {
		return "", fmt.Errorf("completion response contained no content")
	}

	return strings.TrimSpace(response.Choices[0].Content), nil
}
