package pipeline

import (
	"strings"

	"patchsmith/pkg/proto"
)

// friendlyError translates an uncaught failure into a user-facing category
// with an actionable suggestion. Matching is on message text because the
// failure may have crossed several wrapping layers; the raw error is kept
// alongside for diagnostics.
func friendlyError(err error) *proto.FriendlyError {
	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, "rate limit", "rate_limit", "429", "quota", "overloaded"):
		return &proto.FriendlyError{
			Category:   proto.ErrCategoryRateLimited,
			Message:    "The model provider is rate-limiting requests.",
			Suggestion: "Wait a minute and retry, or switch to a different model in the configuration.",
		}
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return &proto.FriendlyError{
			Category:   proto.ErrCategoryTimedOut,
			Message:    "A model call took too long and was cut off.",
			Suggestion: "Retry, or raise the llm timeout in the configuration for large requests.",
		}
	case containsAny(msg, "connection refused", "connection reset", "no such host", "network", "dial tcp", "dns"):
		return &proto.FriendlyError{
			Category:   proto.ErrCategoryNetwork,
			Message:    "Could not reach the model provider.",
			Suggestion: "Check your network connection and the provider host configuration.",
		}
	case containsAny(msg, "unauthorized", "401", "403", "api key", "authentication", "invalid x-api-key"):
		return &proto.FriendlyError{
			Category:   proto.ErrCategoryAuth,
			Message:    "The model provider rejected the credentials.",
			Suggestion: "Check that the API key environment variable is set and valid.",
		}
	case containsAny(msg, "too large", "context length", "token limit", "maximum context"):
		return &proto.FriendlyError{
			Category:   proto.ErrCategoryTooComplex,
			Message:    "The request and its files exceed what the model can process at once.",
			Suggestion: "Split the change into smaller requests or reduce the number of files sent.",
		}
	default:
		return &proto.FriendlyError{
			Category:   proto.ErrCategoryUnknown,
			Message:    "Something went wrong while processing the request.",
			Suggestion: "Retry the request; if it keeps failing, inspect the raw error in the result.",
		}
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
