// Package utils provides small shared helpers: token counting and JSON
// extraction from model output.
package utils

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter counts tokens with a fixed codec.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a counter using the GPT-4 encoding, which is a
// close enough approximation for every model this pipeline talks to.
func NewTokenCounter() (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec: %w", err)
	}
	return &TokenCounter{codec: codec}, nil
}

// Count returns the number of tokens in text, falling back to a chars/4
// estimate when the codec is unavailable.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.codec == nil {
		return EstimateTokens(text)
	}
	n, err := tc.codec.Count(text)
	if err != nil {
		return EstimateTokens(text)
	}
	return n
}

// EstimateTokens approximates a token count as chars/4. Deterministic and
// dependency-free.
func EstimateTokens(text string) int {
	return len(text) / 4
}
