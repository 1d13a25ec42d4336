// Package anthropic implements the analysis backend on the Anthropic API
// through llmkit.
package anthropic

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aktagon/llmkit/anthropic"
	"github.com/aktagon/llmkit/anthropic/types"

	"github.com/liuchzzyy/paperflow/pkg/analysis"
	"github.com/liuchzzyy/paperflow/pkg/models"
)

// Analyzer sends bundle prompts to the Anthropic API. Each call carries the
// full per-run settings, so the model recorded on a workflow is the model
// that actually serves its items, on the first run and on every resume.
type Analyzer struct {
	apiKey string
	logger *slog.Logger
}

// New creates an analyzer with the given API key.
func New(apiKey string, logger *slog.Logger) (*Analyzer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	return &Analyzer{
		apiKey: apiKey,
		logger: logger,
	}, nil
}

// requestSettings maps per-call options onto the llmkit request settings.
func requestSettings(opts analysis.Options) types.RequestSettings {
	return types.RequestSettings{
		Model:       opts.Model,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
}

// Analyze renders the bundle prompt and returns the generated text. The
// context is not threaded into llmkit, which manages its own HTTP timeouts.
func (a *Analyzer) Analyze(ctx context.Context, bundle *models.Bundle, opts analysis.Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	prompt := analysis.BuildPrompt(bundle)

	a.logger.Debug("Sending bundle to analysis backend",
		"item_key", bundle.Key, "model", opts.Model, "prompt_bytes", len(prompt))

	response, err := anthropic.PromptWithSettings(opts.SystemPrompt, prompt, "", a.apiKey, requestSettings(opts))
	if err != nil {
		return "", fmt.Errorf("analysis request failed: %w", err)
	}

	if len(response.Content) == 0 || response.Content[0].Text == "" {
		return "", fmt.Errorf("analysis backend returned empty response for %s", bundle.Key)
	}

	return response.Content[0].Text, nil
}
