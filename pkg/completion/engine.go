// Package completion wraps the LLM providers behind a single engine the
// pipeline stages call for analysis and message generation.
package completion

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/metrics"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/tracing"
)

// Supported providers
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Result is one completion with its token usage
type Result struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// Engine generates completions. The pipeline stages depend on this interface
// so tests can fake the model.
type Engine interface {
	GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (*Result, error)
}

// Config holds LLM configuration
type Config struct {
	Provider  string
	Model     string
	APIKey    string
	ServerURL string
	Timeout   time.Duration
}

// Model wraps a langchaingo model
type Model struct {
	llm       llms.Model
	modelName string
	timeout   time.Duration
	logger    ectologger.Logger
}

// NewModel creates an LLM model based on configuration
func NewModel(cfg Config, logger ectologger.Logger) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.Provider {
	case ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.Model),
			ollama.WithServerURL(cfg.ServerURL),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.APIKey),
			anthropic.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}

	return &Model{
		llm:       model,
		modelName: cfg.Model,
		timeout:   cfg.Timeout,
		logger:    logger,
	}, nil
}

// ModelName returns the configured model name
func (m *Model) ModelName() string {
	return m.modelName
}

// GenerateWithSystem generates a completion from a system and user prompt
func (m *Model) GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "Model.GenerateWithSystem")
	defer span.End()

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	response, err := m.llm.GenerateContent(ctx, messages)
	if err != nil {
		metrics.RecordCompletion("error", 0, 0)
		m.logger.WithContext(ctx).WithError(err).Errorf("completion failed for model %s", m.modelName)
		return nil, fmt.Errorf("generate with system: %w", err)
	}

	if len(response.Choices) == 0 {
		metrics.RecordCompletion("empty", 0, 0)
		return nil, fmt.Errorf("no response choices")
	}

	choice := response.Choices[0]
	result := &Result{
		Content:          choice.Content,
		PromptTokens:     usageTokens(choice.GenerationInfo, "PromptTokens"),
		CompletionTokens: usageTokens(choice.GenerationInfo, "CompletionTokens"),
	}

	metrics.RecordCompletion("ok", result.PromptTokens, result.CompletionTokens)
	return result, nil
}

// usageTokens pulls a token count out of the provider-specific generation
// info. Providers report these with varying numeric types.
func usageTokens(info map[string]any, key string) int {
	if info == nil {
		return 0
	}
	switch n := info[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
