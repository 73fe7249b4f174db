package ai

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/flowstack/flowstack/pkg/apperrors"
)

// OpenAI is a PromptProvider backed by the OpenAI chat completions API or
// any compatible endpoint (set baseURL to point elsewhere).
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates a provider. An empty baseURL uses the public API.
func NewOpenAI(apiKey, baseURL, model string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// ExecutePrompt sends the prompt (and optional system prompt) and returns
// the completion text with token usage.
func (c *OpenAI) ExecutePrompt(ctx context.Context, prompt, systemPrompt string) (*Result, error) {
	var messages []openai.ChatCompletionMessage
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return nil, apperrors.New(apperrors.CodeProvider, "ai", "chat completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return nil, apperrors.Newf(apperrors.CodeProvider, "ai", "no completion received from model %s", c.model)
	}

	return &Result{
		Success: true,
		Output:  resp.Choices[0].Message.Content,
		Usage: &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}
