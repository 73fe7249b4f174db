package ai

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"

	"github.com/flowstack/flowstack/pkg/apperrors"
)

// AzureOpenAI is a PromptProvider backed by an Azure OpenAI deployment.
type AzureOpenAI struct {
	client       *azopenai.Client
	deploymentID string
}

// NewAzureOpenAI creates a provider using key-credential authentication.
// The deploymentID is used for all subsequent chat completion calls.
func NewAzureOpenAI(endpoint, apiKey, deploymentID string) (*AzureOpenAI, error) {
	keyCredential := azcore.NewKeyCredential(apiKey)
	client, err := azopenai.NewClientWithKeyCredential(endpoint, keyCredential, nil)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeProvider, "ai", "error creating Azure OpenAI client", err)
	}
	return &AzureOpenAI{
		client:       client,
		deploymentID: deploymentID,
	}, nil
}

// ExecutePrompt sends the prompt (and optional system prompt) to the
// deployment and returns the completion text with token usage.
func (c *AzureOpenAI) ExecutePrompt(ctx context.Context, prompt, systemPrompt string) (*Result, error) {
	var messages []azopenai.ChatRequestMessageClassification
	if systemPrompt != "" {
		messages = append(messages, &azopenai.ChatRequestSystemMessage{
			Content: azopenai.NewChatRequestSystemMessageContent(systemPrompt),
		})
	}
	messages = append(messages, &azopenai.ChatRequestUserMessage{
		Content: azopenai.NewChatRequestUserMessageContent(prompt),
	})

	resp, err := c.client.GetChatCompletions(
		ctx,
		azopenai.ChatCompletionsOptions{
			DeploymentName: to.Ptr(c.deploymentID),
			Messages:       messages,
		},
		nil,
	)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeProvider, "ai", "chat completion failed", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil || resp.Choices[0].Message.Content == nil {
		return nil, apperrors.Newf(apperrors.CodeProvider, "ai", "no completion received from deployment %s", c.deploymentID)
	}

	result := &Result{
		Success: true,
		Output:  *resp.Choices[0].Message.Content,
	}
	if resp.Usage != nil {
		result.Usage = &Usage{
			PromptTokens:     int(derefInt32(resp.Usage.PromptTokens)),
			CompletionTokens: int(derefInt32(resp.Usage.CompletionTokens)),
			TotalTokens:      int(derefInt32(resp.Usage.TotalTokens)),
		}
	}
	return result, nil
}

func derefInt32(p *int32) int32 {
	if p == nil {
		return 0
	}
	return *p
}
