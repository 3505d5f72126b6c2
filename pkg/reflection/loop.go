// Package reflection implements the bounded generate→critique→retry loop
// shared by the planning and generation stages. The loop owns termination
// only: quality gate, iteration budget, stagnation, and critic failure.
// All progress reporting belongs to the caller.
package reflection

import (
	"context"
	"fmt"

	"patchsmith/pkg/proto"
)

// StopReason explains why a loop accepted its final draft.
type StopReason string

// Stop reasons.
const (
	// StopApproved means the critic approved the draft above the threshold.
	StopApproved StopReason = "approved"
	// StopBudgetExhausted means the iteration cap was reached.
	StopBudgetExhausted StopReason = "budget_exhausted"
	// StopStagnation means successive verdicts stopped improving.
	StopStagnation StopReason = "stagnation"
	// StopCriticFailure means the critic itself failed and the current
	// draft was accepted as-is rather than blocking the run.
	StopCriticFailure StopReason = "critic_failure"
	// StopGenerateFailure means regeneration failed mid-loop and the best
	// prior draft was kept.
	StopGenerateFailure StopReason = "generate_failure"
	// StopDisabled means critique was disabled and the first draft stands.
	StopDisabled StopReason = "disabled"
)

// MinSignificantDelta is the score improvement below which an iteration
// counts as stagnant unless it resolved a blocking issue.
const MinSignificantDelta = 10

// GenerateFunc produces a draft, optionally steered by the previous verdict
// (nil on the first iteration).
type GenerateFunc[D any] func(ctx context.Context, feedback *proto.ReviewVerdict) (D, error)

// CritiqueFunc judges a draft.
type CritiqueFunc[D any] func(ctx context.Context, draft D) (proto.ReviewVerdict, error)

// AcceptFunc decides whether a verdict passes the quality gate.
type AcceptFunc func(v *proto.ReviewVerdict) bool

// Config bounds one loop run.
type Config struct {
	MaxIterations    int
	QualityThreshold int
	// Disabled skips critique entirely; the first draft is final.
	Disabled bool
	// Accept overrides the default gate (approved && score >= threshold).
	// The plan stage uses this for its dual quality/creativity gate.
	Accept AcceptFunc
}

// Outcome is the result of one loop run.
type Outcome[D any] struct {
	Final       D
	History     []proto.IterationRecord
	Reason      StopReason
	LastVerdict *proto.ReviewVerdict
}

// Run drives the loop. It performs at most MaxIterations critique calls and
// at most MaxIterations generate calls. A generate failure after the first
// draft falls back to the previous draft; a critic failure accepts the
// current draft. Only a first-draft generation failure is a hard error.
func Run[D any](ctx context.Context, cfg Config, generate GenerateFunc[D], critique CritiqueFunc[D]) (Outcome[D], error) {
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = 1
	}
	accept := cfg.Accept
	if accept == nil {
		threshold := cfg.QualityThreshold
		accept = func(v *proto.ReviewVerdict) bool {
			return v.Approved && v.QualityScore >= threshold
		}
	}

	draft, err := generate(ctx, nil)
	if err != nil {
		return Outcome[D]{}, fmt.Errorf("initial generation failed: %w", err)
	}

	if cfg.Disabled {
		return Outcome[D]{Final: draft, Reason: StopDisabled}, nil
	}

	var history []proto.IterationRecord
	var prev *proto.ReviewVerdict

	for iteration := 0; iteration < cfg.MaxIterations; iteration++ {
		verdict, err := critique(ctx, draft)
		if err != nil {
			// The critic is advisory: a broken reviewer must not block
			// the user, so the current draft stands.
			return Outcome[D]{
				Final:       draft,
				History:     history,
				Reason:      StopCriticFailure,
				LastVerdict: prev,
			}, nil
		}

		history = append(history, proto.IterationRecord{
			Iteration:    iteration,
			QualityScore: verdict.QualityScore,
			Approved:     verdict.Approved,
			IssueCount:   len(verdict.Issues),
		})

		switch {
		case accept(&verdict):
			return Outcome[D]{Final: draft, History: history, Reason: StopApproved, LastVerdict: &verdict}, nil
		case iteration == cfg.MaxIterations-1:
			return Outcome[D]{Final: draft, History: history, Reason: StopBudgetExhausted, LastVerdict: &verdict}, nil
		case prev != nil && !significantImprovement(prev, &verdict):
			return Outcome[D]{Final: draft, History: history, Reason: StopStagnation, LastVerdict: &verdict}, nil
		}

		next, err := generate(ctx, &verdict)
		if err != nil {
			// Soft failure: keep the best draft we have.
			return Outcome[D]{Final: draft, History: history, Reason: StopGenerateFailure, LastVerdict: &verdict}, nil
		}
		draft = next
		prev = &verdict
	}

	// Unreachable: the budget case above returns inside the loop.
	return Outcome[D]{Final: draft, History: history, Reason: StopBudgetExhausted, LastVerdict: prev}, nil
}

// significantImprovement reports whether cur meaningfully improves on prev:
// a score jump of at least MinSignificantDelta, or one fewer blocking
// (critical/high) issue.
func significantImprovement(prev, cur *proto.ReviewVerdict) bool {
	if cur.QualityScore-prev.QualityScore >= MinSignificantDelta {
		return true
	}
	return cur.BlockingIssues() < prev.BlockingIssues()
}
