package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient wraps the official OpenAI SDK to implement Client.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient creates a raw OpenAI client; resilience middleware is
// applied at a higher level.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	return &OpenAIClient{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Complete implements Client using the Chat Completions API.
func (c *OpenAIClient) Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error) {
	if len(in.Messages) == 0 {
		return CompletionResponse{}, NewError(ErrorTypeBadPrompt, "message list cannot be empty")
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(in.Messages))
	for i := range in.Messages {
		msg := &in.Messages[i]
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		case RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		default:
			return CompletionResponse{}, NewError(ErrorTypeBadPrompt, fmt.Sprintf("unsupported message role: %s", msg.Role))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(c.model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(in.MaxTokens)),
		Temperature:         openai.Float(float64(in.Temperature)),
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return CompletionResponse{}, Classify(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return CompletionResponse{}, NewError(ErrorTypeEmptyResponse, "received empty response from OpenAI API")
	}

	choice := resp.Choices[0]
	if choice.Message.Content == "" {
		return CompletionResponse{}, NewError(ErrorTypeEmptyResponse, "no text content in OpenAI response")
	}

	return CompletionResponse{
		Content:    choice.Message.Content,
		StopReason: string(choice.FinishReason),
	}, nil
}

// ModelName implements Client.
func (c *OpenAIClient) ModelName() string { return c.model }
