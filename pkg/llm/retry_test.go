package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:    maxRetries,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestClassifyTable(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorType
	}{
		{errors.New("request failed with status code: 429"), ErrorTypeRateLimit},
		{errors.New("quota exceeded for this billing period"), ErrorTypeRateLimit},
		{errors.New("request failed with status code: 401"), ErrorTypeAuth},
		{errors.New("invalid api key provided"), ErrorTypeAuth},
		{errors.New("request failed with status code: 503"), ErrorTypeTransient},
		{errors.New("connection reset by peer"), ErrorTypeTransient},
		{errors.New("unexpected eof"), ErrorTypeTransient},
		{context.DeadlineExceeded, ErrorTypeTransient},
		{errors.New("empty response from model"), ErrorTypeEmptyResponse},
		{errors.New("prompt too large for context length"), ErrorTypeBadPrompt},
		{errors.New("something inexplicable"), ErrorTypeUnknown},
	}
	for _, tt := range tests {
		got := Classify(tt.err)
		assert.Equal(t, tt.want, got.Type, "error %q", tt.err)
		assert.ErrorIs(t, got, tt.err, "classified errors must unwrap to the cause")
	}
}

func TestErrorTypeRetryable(t *testing.T) {
	assert.True(t, ErrorTypeRateLimit.Retryable())
	assert.True(t, ErrorTypeTransient.Retryable())
	assert.True(t, ErrorTypeEmptyResponse.Retryable())
	assert.False(t, ErrorTypeAuth.Retryable())
	assert.False(t, ErrorTypeBadPrompt.Retryable())
	assert.False(t, ErrorTypeUnknown.Retryable())
}

func TestRetryableClientRetriesTransient(t *testing.T) {
	mock := NewMockClient(
		[]CompletionResponse{{Content: "ok"}},
		[]error{NewError(ErrorTypeTransient, "blip"), nil},
	)
	client := NewRetryableClient(mock, fastRetryConfig(3))

	resp, err := client.Complete(context.Background(), NewRequest("", "hi", 0, 0))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 2, mock.Calls())
}

func TestRetryableClientStopsOnNonRetryable(t *testing.T) {
	mock := &MockClient{
		Script: func(CompletionRequest) (CompletionResponse, error) {
			return CompletionResponse{}, NewError(ErrorTypeAuth, "bad key")
		},
	}
	client := NewRetryableClient(mock, fastRetryConfig(3))

	_, err := client.Complete(context.Background(), NewRequest("", "hi", 0, 0))
	require.Error(t, err)
	assert.Equal(t, 1, mock.Calls(), "auth errors are not retried")
}

func TestRetryableClientExhaustsBudget(t *testing.T) {
	mock := &MockClient{
		Script: func(CompletionRequest) (CompletionResponse, error) {
			return CompletionResponse{}, NewError(ErrorTypeRateLimit, "429")
		},
	}
	client := NewRetryableClient(mock, fastRetryConfig(2))

	_, err := client.Complete(context.Background(), NewRequest("", "hi", 0, 0))
	require.Error(t, err)
	assert.Equal(t, 3, mock.Calls(), "initial call plus MaxRetries")
}

func TestNewRequestDefaults(t *testing.T) {
	req := NewRequest("system", "user", 0, 0.5)
	assert.Equal(t, 4096, req.MaxTokens)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, RoleSystem, req.Messages[0].Role)
	assert.Equal(t, RoleUser, req.Messages[1].Role)

	req = NewRequest("", "user", 100, 0)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, 100, req.MaxTokens)
}

func TestSplitSystem(t *testing.T) {
	system, rest, err := splitSystem([]Message{
		{Role: RoleSystem, Content: "a"},
		{Role: RoleSystem, Content: "b"},
		{Role: RoleUser, Content: "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "a\n\nb", system)
	require.Len(t, rest, 1)

	_, _, err = splitSystem([]Message{{Role: RoleSystem, Content: "only system"}})
	require.Error(t, err)

	_, _, err = splitSystem(nil)
	require.Error(t, err)
}
