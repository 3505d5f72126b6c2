// Package validate closes the loop between produced files and an execution
// backend: validate, repair on failure, re-validate, until the files pass or
// the cycle budget runs out.
package validate

import (
	"context"
	"fmt"
	"time"

	"patchsmith/pkg/config"
	"patchsmith/pkg/events"
	"patchsmith/pkg/exec"
	"patchsmith/pkg/logx"
	"patchsmith/pkg/metrics"
	"patchsmith/pkg/proto"
)

// Outcome is the loop's terminal state.
type Outcome struct {
	// Ops is the (possibly repaired) file operation list.
	Ops []proto.FileOperation
	// Cycles is the number of validation calls performed.
	Cycles int
	// TestsPassed reports whether the final validation succeeded.
	TestsPassed bool
	// Exhausted is set when the budget ran out or repair gave up.
	Exhausted bool
	// Attempts records each repair cycle.
	Attempts []proto.DebugAttempt
	// LastResult is the most recent backend result.
	LastResult proto.ValidationResult
}

// Loop drives the validate/repair state machine.
type Loop struct {
	backend exec.Backend
	repair  *Repairer
	budgets config.Budgets
	timeout time.Duration
	emitter *events.Emitter
	logger  *logx.Logger
}

// NewLoop creates a validation loop around a backend and a repair collaborator.
func NewLoop(backend exec.Backend, repair *Repairer, budgets config.Budgets, timeout time.Duration, emitter *events.Emitter) *Loop {
	return &Loop{
		backend: backend,
		repair:  repair,
		budgets: budgets,
		timeout: timeout,
		emitter: emitter,
		logger:  logx.NewLogger("validate"),
	}
}

// Run validates ops against the backend, repairing between failed cycles.
// It performs at most maxDebugCycles validation calls. Exhausting the budget
// is a warning, not a failure: the caller still gets the best file set
// produced, with diagnostics attached.
func (l *Loop) Run(ctx context.Context, ops []proto.FileOperation, maxDebugCycles int) Outcome {
	if maxDebugCycles <= 0 {
		maxDebugCycles = l.budgets.MaxDebugCycles
	}

	out := Outcome{Ops: ops}
	l.emitter.Phase("validating changes")

	for cycle := 0; cycle < maxDebugCycles; cycle++ {
		result := l.validate(ctx, out.Ops)
		out.Cycles++
		out.LastResult = result

		if result.Success {
			out.TestsPassed = true
			for i := range out.Ops {
				out.Ops[i].Validated = true
			}
			l.emitter.Emit(events.TypeSuccess, fmt.Sprintf("validation passed on cycle %d", out.Cycles), nil)
			metrics.ObserveDebugCycles(out.Cycles)
			return out
		}

		l.logger.Info("validation cycle %d failed: %d diagnostic(s)", out.Cycles, len(result.Diagnostics))

		if cycle == maxDebugCycles-1 {
			break
		}

		repaired, err := l.repair.Fix(ctx, out.Ops, result)
		if err != nil {
			// Repair declined or failed; further validation of the same
			// content would only burn budget.
			l.logger.Warn("repair gave up on cycle %d: %v", out.Cycles, err)
			break
		}

		attempt := proto.DebugAttempt{
			Cycle:         out.Cycles,
			ErrorSummary:  result.Summary(),
			RepairedFiles: repaired,
		}
		out.Attempts = append(out.Attempts, attempt)
		out.Ops = applyRepairs(out.Ops, repaired)
	}

	out.Exhausted = true
	l.emitter.Warning("validation did not pass", out.LastResult.Summary())
	metrics.ObserveDebugCycles(out.Cycles)
	return out
}

// validate runs the backend once. A backend malfunction is folded into a
// failed result so the loop's accounting stays uniform.
func (l *Loop) validate(ctx context.Context, ops []proto.FileOperation) proto.ValidationResult {
	result, err := l.backend.Run(ctx, fileMap(ops), l.timeout)
	if err != nil {
		return proto.ValidationResult{
			Backend: l.backend.Name(),
			Diagnostics: []proto.Diagnostic{
				{Source: "backend", Message: err.Error()},
			},
		}
	}
	return result
}

// applyRepairs replaces the content of operations the repairer rewrote.
// Repairs naming unknown files are ignored rather than inventing operations.
func applyRepairs(ops []proto.FileOperation, repaired []proto.FileOperation) []proto.FileOperation {
	byName := make(map[string]string, len(repaired))
	for i := range repaired {
		byName[repaired[i].Filename] = repaired[i].Content
	}
	for i := range ops {
		if content, ok := byName[ops[i].Filename]; ok && content != "" {
			ops[i].Content = content
			ops[i].Validated = false
		}
	}
	return ops
}

func fileMap(ops []proto.FileOperation) map[string]string {
	files := make(map[string]string, len(ops))
	for i := range ops {
		files[ops[i].Filename] = ops[i].Content
	}
	return files
}
