package validate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"patchsmith/pkg/llm"
	"patchsmith/pkg/metrics"
	"patchsmith/pkg/proto"
	"patchsmith/pkg/utils"
)

const repairSystemPrompt = `You are a debugging assistant. You receive files that failed
validation and the diagnostics they produced. Fix the problems with the
smallest possible change. Respond with JSON only:

{
  "can_fix": true|false,
  "explanation": "one sentence",
  "files": {"relative/path": "complete fixed file content"}
}

Set can_fix to false if the diagnostics do not point to something you can
actually repair. Only include files you changed.`

// ErrCannotFix is returned when the repair collaborator declines, signalling
// the loop to stop rather than re-validate unchanged content.
var ErrCannotFix = errors.New("repair collaborator cannot fix the failure")

// repairResponse is the collaborator's wire shape.
type repairResponse struct {
	CanFix      bool              `json:"can_fix"`
	Explanation string            `json:"explanation"`
	Files       map[string]string `json:"files"`
}

// Repairer asks a collaborator to fix files that failed validation.
type Repairer struct {
	client  llm.Client
	timeout time.Duration
}

// NewRepairer creates a repair collaborator wrapper.
func NewRepairer(client llm.Client, timeout time.Duration) *Repairer {
	return &Repairer{client: client, timeout: timeout}
}

// Fix returns repaired file operations, or an error (wrapping ErrCannotFix
// when the collaborator declined) when no fix is possible.
func (r *Repairer) Fix(ctx context.Context, ops []proto.FileOperation, result proto.ValidationResult) ([]proto.FileOperation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	userPrompt := buildRepairPrompt(ops, result)
	resp, err := r.client.Complete(ctx, llm.NewRequest(repairSystemPrompt, userPrompt, 0, llm.TemperatureDeterministic))
	metrics.RecordLLMCall("repair", r.client.ModelName(), err == nil)
	if err != nil {
		return nil, fmt.Errorf("repair call failed: %w", err)
	}
	metrics.RecordLLMTokens("repair", utils.EstimateTokens(userPrompt), utils.EstimateTokens(resp.Content))

	var parsed repairResponse
	if err := utils.DecodeJSON(resp.Content, &parsed); err != nil {
		return nil, fmt.Errorf("repair output unparsable: %w", err)
	}
	if !parsed.CanFix {
		return nil, fmt.Errorf("%w: %s", ErrCannotFix, parsed.Explanation)
	}
	if len(parsed.Files) == 0 {
		return nil, fmt.Errorf("%w: no files returned", ErrCannotFix)
	}

	repaired := make([]proto.FileOperation, 0, len(parsed.Files))
	names := make([]string, 0, len(parsed.Files))
	for name := range parsed.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		repaired = append(repaired, proto.FileOperation{
			Type:     proto.OpModify,
			Filename: name,
			Content:  parsed.Files[name],
		})
	}
	return repaired, nil
}

func buildRepairPrompt(ops []proto.FileOperation, result proto.ValidationResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Validation failed (backend: %s).\n\nDiagnostics:\n%s\n", result.Backend, result.Summary())
	if result.Output != "" && result.Output != result.Summary() {
		fmt.Fprintf(&b, "\nRaw output:\n%s\n", truncate(result.Output, 4000))
	}
	b.WriteString("\nCurrent files:\n")
	for i := range ops {
		fmt.Fprintf(&b, "--- %s ---\n%s\n", ops[i].Filename, ops[i].Content)
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... (truncated)"
}
