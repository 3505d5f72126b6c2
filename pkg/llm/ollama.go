package llm

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

// OllamaClient wraps the Ollama API client to implement Client. Ollama is a
// local runtime for open-source models, useful for offline runs.
type OllamaClient struct {
	client *api.Client
	model  string
}

// NewOllamaClient creates an Ollama client against hostURL
// (e.g. "http://localhost:11434"). An unparsable URL falls back to the
// default local server.
func NewOllamaClient(hostURL, model string) *OllamaClient {
	parsed, err := url.Parse(hostURL)
	if err != nil || parsed.Host == "" {
		parsed, _ = url.Parse("http://localhost:11434")
	}
	return &OllamaClient{
		client: api.NewClient(parsed, http.DefaultClient),
		model:  model,
	}
}

// Complete implements Client.
func (o *OllamaClient) Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error) {
	if len(in.Messages) == 0 {
		return CompletionResponse{}, NewError(ErrorTypeBadPrompt, "message list cannot be empty")
	}

	messages := make([]api.Message, 0, len(in.Messages))
	for i := range in.Messages {
		msg := &in.Messages[i]
		messages = append(messages, api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}

	var response api.ChatResponse
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return CompletionResponse{}, Classify(err)
	}
	if response.Message.Content == "" {
		return CompletionResponse{}, NewError(ErrorTypeEmptyResponse, "no text content in Ollama response")
	}

	stopReason := "end_turn"
	if response.DoneReason != "" {
		stopReason = response.DoneReason
	}
	return CompletionResponse{
		Content:    response.Message.Content,
		StopReason: stopReason,
	}, nil
}

// ModelName implements Client.
func (o *OllamaClient) ModelName() string { return o.model }
