// Package proto defines the shared data model passed between pipeline stages.
package proto

import "fmt"

// OperationType describes what the pipeline does to a file.
type OperationType string

// Operation type constants.
const (
	OpCreate OperationType = "create"
	OpModify OperationType = "modify"
)

// TimeClass is a coarse execution-time estimate attached to a route decision.
type TimeClass string

// Time class constants.
const (
	TimeFast   TimeClass = "fast"
	TimeMedium TimeClass = "medium"
	TimeSlow   TimeClass = "slow"
)

// RunOptions carries per-run overrides supplied by the caller.
type RunOptions struct {
	// MaxIterations caps reflection loop rounds for code generation (0 = config default).
	MaxIterations int `json:"max_iterations,omitempty"`
	// MaxDebugCycles caps validation/repair rounds (0 = config default).
	MaxDebugCycles int `json:"max_debug_cycles,omitempty"`
	// SkipValidation disables the validation/repair loop entirely.
	SkipValidation bool `json:"skip_validation,omitempty"`
}

// ChangeRequest is the immutable input of one pipeline run.
type ChangeRequest struct {
	Message      string            `json:"message"`
	CurrentFiles map[string]string `json:"current_files,omitempty"`
	Options      RunOptions        `json:"options,omitempty"`
}

// Intent is the caller's pre-classified intent for the request, with a
// confidence in [0,1]. The router treats it as advisory input.
type Intent struct {
	Kind       string  `json:"kind"`
	Confidence float64 `json:"confidence"`
}

// Intent kinds recognized by the router.
const (
	IntentCreate   = "create"
	IntentEdit     = "edit"
	IntentBugfix   = "bugfix"
	IntentQuestion = "question"
)

// RouteDecision is the router's verdict on which stages a run may skip.
// It is a closed record: every skip flag is explicit so dispatch can be
// checked exhaustively.
type RouteDecision struct {
	SkipPlan       bool      `json:"skip_plan"`
	SkipAnalysis   bool      `json:"skip_analysis"`
	SkipReflection bool      `json:"skip_reflection"`
	Reason         string    `json:"reason"`
	TimeClass      TimeClass `json:"time_class"`
	// Path names the matched routing rule, e.g. "fast_edit" or "full_pipeline".
	Path string `json:"path"`
}

// FileDetail captures the planner's intent for a single file.
type FileDetail struct {
	Purpose     string   `json:"purpose"`
	KeyFeatures []string `json:"key_features,omitempty"`
}

// Plan is the structured change plan produced once per run.
type Plan struct {
	FilesToCreate []string              `json:"files_to_create"`
	FilesToModify []string              `json:"files_to_modify"`
	FileDetails   map[string]FileDetail `json:"file_details,omitempty"`
	Summary       string                `json:"summary,omitempty"`
}

// Detail returns the planner's intent for filename, or a zero detail.
func (p *Plan) Detail(filename string) FileDetail {
	if p == nil || p.FileDetails == nil {
		return FileDetail{}
	}
	return p.FileDetails[filename]
}

// IterationRecord is one row of a reflection loop's history. Append-only.
type IterationRecord struct {
	Iteration    int  `json:"iteration"`
	QualityScore int  `json:"quality_score"`
	Approved     bool `json:"approved"`
	IssueCount   int  `json:"issue_count"`
}

// FileOperation is one produced file edit.
//
// Invariant: Content is always a defined string. Every downstream consumer
// (validation backends, the final result) indexes on it, so even a failed
// generation slot must carry best-effort content, never a missing field.
type FileOperation struct {
	Type              OperationType     `json:"type"`
	Filename          string            `json:"filename"`
	Content           string            `json:"content"`
	Validated         bool              `json:"validated"`
	QualityScore      *int              `json:"quality_score,omitempty"`
	ReflectionHistory []IterationRecord `json:"reflection_history,omitempty"`
}

// Severity ranks review issues.
type Severity string

// Issue severities, ordered from most to least serious.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Blocking reports whether an issue of this severity gates acceptance.
func (s Severity) Blocking() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// Issue is a single problem found by a critic collaborator.
type Issue struct {
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

// ReviewVerdict is a critic's judgement of a draft.
type ReviewVerdict struct {
	QualityScore int  `json:"quality_score"`
	Approved     bool `json:"approved"`
	// CreativityScore is a secondary gate used only by the plan critic.
	CreativityScore int     `json:"creativity_score,omitempty"`
	Issues          []Issue `json:"issues,omitempty"`
}

// BlockingIssues counts critical and high severity issues.
func (v *ReviewVerdict) BlockingIssues() int {
	n := 0
	for i := range v.Issues {
		if v.Issues[i].Severity.Blocking() {
			n++
		}
	}
	return n
}

// Diagnostic is one backend-agnostic validation finding.
type Diagnostic struct {
	Source   string `json:"source"`
	Message  string `json:"message"`
	Filename string `json:"filename,omitempty"`
}

// ValidationResult is the normalized outcome of one backend run. Both
// execution backends must produce this shape.
type ValidationResult struct {
	Success     bool         `json:"success"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
	Backend     string       `json:"backend,omitempty"`
	Output      string       `json:"output,omitempty"`
}

// Summary flattens diagnostics into a single repair-prompt friendly string.
func (r *ValidationResult) Summary() string {
	if len(r.Diagnostics) == 0 {
		if r.Success {
			return "validation passed"
		}
		return "validation failed with no diagnostics"
	}
	out := ""
	for i := range r.Diagnostics {
		d := &r.Diagnostics[i]
		if d.Filename != "" {
			out += fmt.Sprintf("[%s] %s: %s\n", d.Source, d.Filename, d.Message)
		} else {
			out += fmt.Sprintf("[%s] %s\n", d.Source, d.Message)
		}
	}
	return out
}

// DebugAttempt records one repair cycle of the validation loop.
type DebugAttempt struct {
	Cycle         int             `json:"cycle"`
	ErrorSummary  string          `json:"error_summary"`
	RepairedFiles []FileOperation `json:"repaired_files,omitempty"`
}

// Metadata is the observability block attached to every result.
type Metadata struct {
	Route          RouteDecision `json:"route"`
	Operation      string        `json:"operation"`
	FilesGenerated int           `json:"files_generated"`
	TestsRun       bool          `json:"tests_run"`
	TestsPassed    bool          `json:"tests_passed"`
	DebugCycles    int           `json:"debug_cycles"`
	TestResults    string        `json:"test_results,omitempty"`
	MeanQuality    int           `json:"mean_quality,omitempty"`
}

// Result is the final output of one pipeline run.
type Result struct {
	Success        bool            `json:"success"`
	FileOperations []FileOperation `json:"file_operations"`
	Plan           *Plan           `json:"plan,omitempty"`
	Metadata       Metadata        `json:"metadata"`
	Error          string          `json:"error,omitempty"`
	FriendlyError  *FriendlyError  `json:"friendly_error,omitempty"`
}

// FriendlyError is the user-facing translation of an uncaught failure.
// The raw error is retained separately for diagnostics.
type FriendlyError struct {
	Category   string `json:"category"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion"`
}

// Friendly error categories.
const (
	ErrCategoryRateLimited = "rate_limited"
	ErrCategoryTimedOut    = "timed_out"
	ErrCategoryNetwork     = "network"
	ErrCategoryAuth        = "auth"
	ErrCategoryTooComplex  = "too_complex"
	ErrCategoryUnknown     = "unknown"
)

// Consultation is a narrow advisory question from one stage to another.
type Consultation struct {
	ID        string         `json:"id"`
	FromStage string         `json:"from_stage"`
	ToStage   string         `json:"to_stage"`
	Kind      string         `json:"kind"`
	Question  string         `json:"question"`
	Context   map[string]any `json:"context,omitempty"`
}

// Answer is the bus response to a consultation. Fallback answers are marked
// so observers can distinguish them from real collaborator output.
type Answer struct {
	Text     string `json:"text"`
	Fallback bool   `json:"fallback"`
	Err      string `json:"err,omitempty"`
}
