// Package router classifies incoming change requests and decides which
// pipeline stages a run may skip. Classification is pure and deterministic:
// it never calls a collaborator and never fails.
package router

import (
	"fmt"
	"regexp"
	"strings"

	"patchsmith/pkg/proto"
	"patchsmith/pkg/utils"
)

// Classifier decides routing for a change request. Implementations must be
// pure functions of their inputs so decisions are reproducible and
// independently testable; strategies are swappable (heuristics today, a
// model-backed classifier tomorrow).
type Classifier interface {
	Classify(message string, intent proto.Intent, currentFiles map[string]string) proto.RouteDecision
}

// Thresholds tune the heuristic classifier.
type Thresholds struct {
	// FastEditMaxWords is the word-count ceiling for the fast edit path.
	FastEditMaxWords int
	// FastEditMinConfidence gates the fast path on intent confidence.
	FastEditMinConfidence float64
	// SlowTokenCount marks a request as slow above this token estimate
	// (message plus current file contents).
	SlowTokenCount int
}

// DefaultThresholds returns the tuning used in production.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FastEditMaxWords:      12,
		FastEditMinConfidence: 0.7,
		SlowTokenCount:        6000,
	}
}

// Heuristic is the regex/keyword classifier. Rules are evaluated in order;
// the first match wins, falling through to the full-pipeline default.
type Heuristic struct {
	thresholds Thresholds
	counter    *utils.TokenCounter
}

// NewHeuristic creates a heuristic classifier. Token codec setup failure is
// tolerated: counting degrades to a deterministic character estimate.
func NewHeuristic(thresholds Thresholds) *Heuristic {
	counter, _ := utils.NewTokenCounter()
	return &Heuristic{thresholds: thresholds, counter: counter}
}

// Route path names, one per rule.
const (
	PathBugReport    = "bug_report"
	PathFullCreate   = "full_create"
	PathFastEdit     = "fast_edit"
	PathComplex      = "complex_request"
	PathFullPipeline = "full_pipeline"
)

//nolint:gochecknoglobals // Compiled once; patterns are fixed.
var (
	bugPattern = regexp.MustCompile(`(?i)\b(fix|bug|broken|crash|crashes|error|exception|doesn'?t work|not working|regression)\b`)

	simpleEditPattern = regexp.MustCompile(`(?i)^(make|change|set|rename|replace|update|turn|swap)\b`)
)

// Classify implements Classifier. It never returns an error and never
// panics; unrecognized input degrades to the full-pipeline default.
func (h *Heuristic) Classify(message string, intent proto.Intent, currentFiles map[string]string) proto.RouteDecision {
	trimmed := strings.TrimSpace(message)
	wordCount := len(strings.Fields(trimmed))

	// Rule 1: bug-report phrasing. Planning adds little when the target is
	// a defect in existing code, but analysis still matters.
	if bugPattern.MatchString(trimmed) && len(currentFiles) > 0 {
		return proto.RouteDecision{
			SkipPlan:  true,
			Reason:    "bug-report phrasing with existing files; planning skipped",
			TimeClass: proto.TimeMedium,
			Path:      PathBugReport,
		}
	}

	// Rule 2: nothing to edit means everything must be created.
	if len(currentFiles) == 0 {
		return proto.RouteDecision{
			Reason:    "no existing files; full pipeline with planning",
			TimeClass: proto.TimeSlow,
			Path:      PathFullCreate,
		}
	}

	// Rule 3: short simple-edit phrasing with a confident edit intent.
	if wordCount > 0 && wordCount <= h.thresholds.FastEditMaxWords &&
		simpleEditPattern.MatchString(trimmed) &&
		intent.Confidence >= h.thresholds.FastEditMinConfidence {
		return proto.RouteDecision{
			SkipPlan:       true,
			SkipAnalysis:   true,
			SkipReflection: true,
			Reason:         fmt.Sprintf("short simple edit (%d words, confidence %.2f)", wordCount, intent.Confidence),
			TimeClass:      proto.TimeFast,
			Path:           PathFastEdit,
		}
	}

	// Rule 4: complexity threshold on the combined token estimate.
	if h.tokenEstimate(trimmed, currentFiles) > h.thresholds.SlowTokenCount {
		return proto.RouteDecision{
			Reason:    "large request or file set; full pipeline, slow",
			TimeClass: proto.TimeSlow,
			Path:      PathComplex,
		}
	}

	// Fallthrough: full pipeline.
	return proto.RouteDecision{
		Reason:    "default routing; full pipeline",
		TimeClass: proto.TimeMedium,
		Path:      PathFullPipeline,
	}
}

// tokenEstimate sums tokens over the message and file contents. Filenames
// are iterated without ordering sensitivity since only the sum is used.
func (h *Heuristic) tokenEstimate(message string, currentFiles map[string]string) int {
	total := h.count(message)
	for _, content := range currentFiles {
		total += h.count(content)
	}
	return total
}

func (h *Heuristic) count(text string) int {
	if h.counter != nil {
		return h.counter.Count(text)
	}
	return utils.EstimateTokens(text)
}
