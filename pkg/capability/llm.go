package capability

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/mnemos/mnemos/pkg/errs"
)

// LLM generates text. Used only by optional optimizer stages
// (contradiction judging, compression); its absence must not break any
// core operation.
type LLM interface {
	Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error)
}

// AnthropicLLM implements LLM against the Anthropic Messages API.
type AnthropicLLM struct {
	client anthropic.Client
	model  string
}

// NewAnthropicLLM creates an Anthropic-backed LLM capability.
func NewAnthropicLLM(apiKey, model string) *AnthropicLLM {
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_5)
	}
	return &AnthropicLLM{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Complete sends a single-turn prompt and returns the concatenated text
// blocks of the response.
func (a *AnthropicLLM) Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", errs.Wrap(errs.KindTransient, "capability.llm", err)
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}
