package router

import (
	"regexp"
	"strings"

	"patchsmith/pkg/proto"
)

//nolint:gochecknoglobals // Compiled once; patterns are fixed.
var questionPattern = regexp.MustCompile(`(?i)^(how|what|why|where|when|which|can you explain|is it)\b`)

// DeriveIntent infers an advisory intent when the caller supplies none.
// Like Classify it is a pure function of its inputs: same request, same
// intent, every time.
func DeriveIntent(message string, currentFiles map[string]string) proto.Intent {
	trimmed := strings.TrimSpace(message)

	switch {
	case questionPattern.MatchString(trimmed) || strings.HasSuffix(trimmed, "?"):
		return proto.Intent{Kind: proto.IntentQuestion, Confidence: 0.8}
	case bugPattern.MatchString(trimmed) && len(currentFiles) > 0:
		return proto.Intent{Kind: proto.IntentBugfix, Confidence: 0.8}
	case len(currentFiles) == 0:
		return proto.Intent{Kind: proto.IntentCreate, Confidence: 0.9}
	case simpleEditPattern.MatchString(trimmed):
		return proto.Intent{Kind: proto.IntentEdit, Confidence: 0.9}
	default:
		return proto.Intent{Kind: proto.IntentEdit, Confidence: 0.5}
	}
}
