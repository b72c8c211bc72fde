package llm

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"

	"github.com/prismis/prismisd/internal/content"
)

// EmbedAnalysis derives the fixed-dimensional vector for an analyzed item
// from its reading summary (or the short summary when absent). Failures are
// non-fatal upstream: an item without an embedding stays queryable by
// priority and date.
func (c *Client) EmbedAnalysis(ctx context.Context, a *content.Analysis) ([]float32, error) {
	text := a.ReadingSummary
	if text == "" {
		text = a.Summary
	}
	if text == "" {
		return nil, &AnalysisError{Stage: "embed", Err: fmt.Errorf("analysis has no summary text")}
	}
	vec, err := c.embed(ctx, text)
	if err != nil {
		return nil, &AnalysisError{Stage: "embed", Err: err}
	}
	return vec, nil
}

func (c *Client) embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.embModel),
		Input: []string{truncate(text, maxPromptBytes)},
	}
	if c.embDims > 0 {
		req.Dimensions = c.embDims
	}
	var vec []float32
	op := func() error {
		resp, err := c.api.CreateEmbeddings(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Data) == 0 {
			return backoff.Permanent(fmt.Errorf("empty embedding response"))
		}
		vec = resp.Data[0].Embedding
		return nil
	}
	if err := backoff.Retry(op, retryPolicy(ctx)); err != nil {
		return nil, err
	}
	return vec, nil
}
