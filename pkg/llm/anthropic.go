package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient wraps the Anthropic SDK to implement Client.
type AnthropicClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicClient creates a raw Anthropic client; resilience middleware is
// applied at a higher level.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// Complete implements Client.
func (c *AnthropicClient) Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error) {
	systemPrompt, rest, err := splitSystem(in.Messages)
	if err != nil {
		return CompletionResponse{}, NewError(ErrorTypeBadPrompt, fmt.Sprintf("message layout error: %v", err))
	}

	messages := make([]anthropic.MessageParam, 0, len(rest))
	for i := range rest {
		msg := &rest[i]
		messages = append(messages, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(msg.Role),
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)},
		})
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(in.MaxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt, Type: "text"}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return CompletionResponse{}, Classify(err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return CompletionResponse{}, NewError(ErrorTypeEmptyResponse, "received empty response from Anthropic API")
	}

	var text string
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			text += block.AsText().Text
		}
	}
	if text == "" {
		return CompletionResponse{}, NewError(ErrorTypeEmptyResponse, "no text content in Anthropic response")
	}

	return CompletionResponse{
		Content:    text,
		StopReason: string(resp.StopReason),
	}, nil
}

// ModelName implements Client.
func (c *AnthropicClient) ModelName() string { return string(c.model) }
