// Package llm wraps the OpenAI-compatible chat and embeddings APIs behind
// the three analysis stages: summarize, prioritize, embed.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"

	"github.com/prismis/prismisd/internal/config"
)

// Provider base URLs. Anything speaking the OpenAI wire format works.
const (
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	ollamaBaseURL     = "http://localhost:11434/v1"
)

const (
	defaultModel          = "gpt-4o-mini"
	defaultEmbeddingModel = "text-embedding-3-small"

	// Low temperature: the analysis envelope must be stable, not creative.
	analysisTemperature = 0.1

	// maxPromptBytes bounds per-item LLM spend on huge transcripts/files.
	maxPromptBytes = 48 * 1024
)

// AnalysisError wraps a summarizer or evaluator failure. The pipeline logs
// it and skips the item; it never poisons the source.
type AnalysisError struct {
	Stage string // "summarize" | "evaluate" | "embed"
	Err   error
}

func (e *AnalysisError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *AnalysisError) Unwrap() error { return e.Err }

// Client is the configured LLM backend. Safe for concurrent use.
type Client struct {
	api      *openai.Client
	model    string
	embModel string
	embDims  int
}

// New builds a client from the [llm] config table. The api_key has already
// been env-resolved by config.Load.
func New(cfg config.LLM) (*Client, error) {
	base := cfg.BaseURL
	switch cfg.Provider {
	case "", "openai":
	case "openrouter":
		if base == "" {
			base = openRouterBaseURL
		}
	case "ollama":
		if base == "" {
			base = ollamaBaseURL
		}
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
	if cfg.APIKey == "" && cfg.Provider != "ollama" {
		return nil, fmt.Errorf("llm: api_key required for provider %q", providerName(cfg.Provider))
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if base != "" {
		oc.BaseURL = base
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	embModel := cfg.EmbeddingModel
	if embModel == "" {
		embModel = defaultEmbeddingModel
	}
	return &Client{
		api:      openai.NewClientWithConfig(oc),
		model:    model,
		embModel: embModel,
		embDims:  cfg.EmbeddingDims,
	}, nil
}

func providerName(p string) string {
	if p == "" {
		return "openai"
	}
	return p
}

// chatJSON sends one system+user exchange requesting a JSON object reply,
// retrying transient API failures with capped exponential backoff.
func (c *Client) chatJSON(ctx context.Context, system, user string) (string, error) {
	var out string
	op := func() error {
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			Temperature: analysisTemperature,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("empty completion"))
		}
		out = resp.Choices[0].Message.Content
		return nil
	}
	if err := backoff.Retry(op, retryPolicy(ctx)); err != nil {
		return "", err
	}
	return out, nil
}

func retryPolicy(ctx context.Context) backoff.BackOffContext {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 45 * time.Second
	return backoff.WithContext(bo, ctx)
}

// truncate caps s at n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
