package planner

import (
	"fmt"
	"sort"
	"strings"

	"patchsmith/pkg/proto"
)

const plannerSystemPrompt = `You are a software change planner. Given a change request and the
current project files, produce a JSON plan with this exact shape:

{
  "summary": "one sentence describing the change",
  "files_to_create": ["relative/path"],
  "files_to_modify": ["relative/path"],
  "file_details": {
    "relative/path": {"purpose": "what this file is for", "key_features": ["..."]}
  }
}

Rules:
- Only list files in files_to_modify that already exist.
- Every file in files_to_create must have an entry in file_details.
- Prefer the smallest set of files that fully satisfies the request.
Respond with JSON only.`

const planCriticSystemPrompt = `You are a plan reviewer. Judge the proposed change plan against the
request and respond with JSON only:

{
  "quality_score": 0-100,
  "creativity_score": 0-100,
  "approved": true|false,
  "issues": [{"severity": "critical|high|medium|low", "description": "..."}]
}

quality_score measures completeness and correctness of the plan.
creativity_score measures whether the plan goes beyond the literal minimum
where the request invites it (naming, structure, user experience).
Approve only when the plan needs no changes.`

func buildPlanPrompt(req *proto.ChangeRequest, feedback *proto.ReviewVerdict) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Change request:\n%s\n", req.Message)

	if len(req.CurrentFiles) > 0 {
		names := make([]string, 0, len(req.CurrentFiles))
		for name := range req.CurrentFiles {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteString("\nExisting files:\n")
		for _, name := range names {
			fmt.Fprintf(&b, "--- %s ---\n%s\n", name, req.CurrentFiles[name])
		}
	} else {
		b.WriteString("\nThere are no existing files; everything must be created.\n")
	}

	if feedback != nil && len(feedback.Issues) > 0 {
		b.WriteString("\nA reviewer raised these issues with your previous plan; address them:\n")
		for i := range feedback.Issues {
			issue := &feedback.Issues[i]
			fmt.Fprintf(&b, "- [%s] %s\n", issue.Severity, issue.Description)
		}
	}
	return b.String()
}

func buildPlanReviewPrompt(req *proto.ChangeRequest, plan *proto.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Change request:\n%s\n\nProposed plan summary: %s\n", req.Message, plan.Summary)
	fmt.Fprintf(&b, "\nFiles to create: %s\n", strings.Join(plan.FilesToCreate, ", "))
	fmt.Fprintf(&b, "Files to modify: %s\n", strings.Join(plan.FilesToModify, ", "))
	if len(plan.FileDetails) > 0 {
		b.WriteString("\nPer-file intent:\n")
		names := make([]string, 0, len(plan.FileDetails))
		for name := range plan.FileDetails {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			detail := plan.FileDetails[name]
			fmt.Fprintf(&b, "- %s: %s (%s)\n", name, detail.Purpose, strings.Join(detail.KeyFeatures, "; "))
		}
	}
	return b.String()
}
