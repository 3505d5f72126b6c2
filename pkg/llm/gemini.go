package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiClient wraps the Google GenAI SDK to implement Client.
type GeminiClient struct {
	client *genai.Client
	apiKey string
	model  string
}

// NewGeminiClient creates a Gemini client. SDK client construction needs a
// context, so it is deferred to the first Complete call.
func NewGeminiClient(apiKey, model string) *GeminiClient {
	return &GeminiClient{apiKey: apiKey, model: model}
}

// Complete implements Client.
func (g *GeminiClient) Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error) {
	if g.client == nil {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return CompletionResponse{}, Classify(fmt.Errorf("failed to create Gemini client: %w", err))
		}
		g.client = client
	}

	systemPrompt, rest, err := splitSystem(in.Messages)
	if err != nil {
		return CompletionResponse{}, NewError(ErrorTypeBadPrompt, fmt.Sprintf("message layout error: %v", err))
	}

	contents := make([]*genai.Content, 0, len(rest))
	for i := range rest {
		msg := &rest[i]
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model" // Gemini uses "model" instead of "assistant"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}

	maxTokens := int32(in.MaxTokens) //nolint:gosec // MaxTokens validated by config.
	cfg := &genai.GenerateContentConfig{
		Temperature:     &in.Temperature,
		MaxOutputTokens: maxTokens,
	}
	if systemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		}
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return CompletionResponse{}, Classify(err)
	}
	if result == nil || result.Text() == "" {
		return CompletionResponse{}, NewError(ErrorTypeEmptyResponse, "received empty response from Gemini API")
	}

	stopReason := "end_turn"
	if len(result.Candidates) > 0 && result.Candidates[0].FinishReason != "" {
		stopReason = string(result.Candidates[0].FinishReason)
	}
	return CompletionResponse{
		Content:    result.Text(),
		StopReason: stopReason,
	}, nil
}

// ModelName implements Client.
func (g *GeminiClient) ModelName() string { return g.model }
