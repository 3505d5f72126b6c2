package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"patchsmith/pkg/logx"
)

// CircuitState is the state of a circuit breaker.
type CircuitState int

// Circuit breaker states.
const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, reject requests
	CircuitHalfOpen                     // Testing if service recovered
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig defines failure thresholds and recovery behavior.
type CircuitBreakerConfig struct {
	FailureThreshold   int
	SuccessThreshold   int
	Timeout            time.Duration
	MaxConcurrentCalls int
}

// DefaultCircuitBreakerConfig provides reasonable defaults.
//
//nolint:gochecknoglobals // Package default, copied by value.
var DefaultCircuitBreakerConfig = CircuitBreakerConfig{
	FailureThreshold:   5,
	SuccessThreshold:   3,
	Timeout:            30 * time.Second,
	MaxConcurrentCalls: 3,
}

// CircuitBreakerError is returned while the circuit rejects requests.
type CircuitBreakerError struct {
	State CircuitState
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker is %s", e.State)
}

// CircuitBreakerClient wraps a Client with the circuit breaker pattern.
type CircuitBreakerClient struct {
	client          Client
	logger          *logx.Logger
	lastFailureTime time.Time
	config          CircuitBreakerConfig
	mu              sync.Mutex
	state           CircuitState
	failureCount    int
	successCount    int
	halfOpenCalls   int
}

// NewCircuitBreakerClient creates a circuit-breaking wrapper around client.
func NewCircuitBreakerClient(client Client, config CircuitBreakerConfig) *CircuitBreakerClient {
	return &CircuitBreakerClient{
		client: client,
		config: config,
		state:  CircuitClosed,
		logger: logx.NewLogger("llm"),
	}
}

// Complete implements Client with circuit breaker logic.
func (cb *CircuitBreakerClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	if err := cb.allowRequest(); err != nil {
		return CompletionResponse{}, err
	}

	resp, err := cb.client.Complete(ctx, req)
	cb.recordResult(err == nil)

	if err != nil {
		return resp, fmt.Errorf("llm complete request failed: %w", err)
	}
	return resp, nil
}

// ModelName implements Client.
func (cb *CircuitBreakerClient) ModelName() string { return cb.client.ModelName() }

// State returns the current circuit state.
func (cb *CircuitBreakerClient) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset manually closes the circuit.
func (cb *CircuitBreakerClient) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.halfOpenCalls = 0
}

func (cb *CircuitBreakerClient) allowRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if time.Since(cb.lastFailureTime) >= cb.config.Timeout {
			cb.state = CircuitHalfOpen
			cb.halfOpenCalls = 0
			cb.successCount = 0
			return nil
		}
		return &CircuitBreakerError{State: CircuitOpen}
	case CircuitHalfOpen:
		if cb.halfOpenCalls >= cb.config.MaxConcurrentCalls {
			return &CircuitBreakerError{State: CircuitHalfOpen}
		}
		cb.halfOpenCalls++
		return nil
	default:
		return &CircuitBreakerError{State: cb.state}
	}
}

func (cb *CircuitBreakerClient) recordResult(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen {
		cb.halfOpenCalls--
	}

	if success {
		cb.onSuccess()
	} else {
		cb.onFailure()
	}
}

func (cb *CircuitBreakerClient) onSuccess() {
	switch cb.state {
	case CircuitClosed:
		cb.failureCount = 0
	case CircuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.state = CircuitClosed
			cb.failureCount = 0
			cb.successCount = 0
		}
	case CircuitOpen:
		// No success path while open; requests are rejected before the call.
	}
}

func (cb *CircuitBreakerClient) onFailure() {
	cb.failureCount++
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case CircuitClosed:
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.state = CircuitOpen
			cb.logger.Error("circuit breaker opened after %d failures (threshold %d)",
				cb.failureCount, cb.config.FailureThreshold)
		}
	case CircuitHalfOpen:
		// Any failure in half-open immediately reopens the circuit.
		cb.state = CircuitOpen
		cb.successCount = 0
		cb.logger.Error("circuit breaker reopened from HALF_OPEN")
	case CircuitOpen:
	}
}

// NewResilientClient composes the standard middleware stack: circuit breaker
// inside, retry outside, so breaker rejections are not retried into a storm.
func NewResilientClient(base Client) Client {
	cbClient := NewCircuitBreakerClient(base, DefaultCircuitBreakerConfig)

	retryConfig := DefaultRetryConfig
	retryConfig.MaxRetries = 2 // breaker already absorbs repeated failures

	return NewRetryableClient(cbClient, retryConfig)
}
