package llm

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryConfig defines exponential backoff behavior for completion calls.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
}

// DefaultRetryConfig provides reasonable defaults.
//
//nolint:gochecknoglobals // Package default, copied by value.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:    3,
	InitialDelay:  100 * time.Millisecond,
	MaxDelay:      10 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// RetryableClient wraps a Client with classified-error retry logic.
type RetryableClient struct {
	client Client
	config RetryConfig
}

// NewRetryableClient creates a retrying wrapper around client.
func NewRetryableClient(client Client, config RetryConfig) *RetryableClient {
	return &RetryableClient{client: client, config: config}
}

// Complete implements Client with retries on retryable error types.
func (r *RetryableClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.calculateDelay(attempt)
			select {
			case <-ctx.Done():
				return CompletionResponse{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := r.client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !TypeOf(err).Retryable() {
			break
		}
	}

	return CompletionResponse{}, fmt.Errorf("failed after %d retries: %w", r.config.MaxRetries, lastErr)
}

// ModelName implements Client.
func (r *RetryableClient) ModelName() string { return r.client.ModelName() }

func (r *RetryableClient) calculateDelay(attempt int) time.Duration {
	delay := time.Duration(float64(r.config.InitialDelay) * math.Pow(r.config.BackoffFactor, float64(attempt-1)))
	if delay > r.config.MaxDelay {
		delay = r.config.MaxDelay
	}
	if r.config.Jitter {
		// Up to ±10% to avoid synchronized retries.
		jitter := time.Duration((rand.Float64()*0.2 - 0.1) * float64(delay)) //nolint:gosec // Not security sensitive.
		delay += jitter
		if delay < 0 {
			delay = r.config.InitialDelay
		}
	}
	return delay
}
