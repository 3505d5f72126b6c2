package coder

import (
	"fmt"
	"strings"

	"patchsmith/pkg/proto"
	"patchsmith/pkg/utils"
)

const coderSystemPrompt = `You are an expert software engineer generating one complete file.
Output only the raw file content. No markdown fences, no commentary,
no explanation before or after the code.`

const modifierSystemPrompt = `You are an expert software engineer editing one existing file.
Apply the requested change and nothing else: preserve the file's
structure, style, and all unrelated content exactly. Output only the
complete updated file content, with no markdown fences or commentary.`

const codeCriticSystemPrompt = `You are a code reviewer. Judge the file against its stated purpose
and respond with JSON only:

{
  "quality_score": 0-100,
  "approved": true|false,
  "issues": [{"severity": "critical|high|medium|low", "description": "..."}]
}

Approve only code you would merge as-is.`

func buildGeneratePrompt(req *proto.ChangeRequest, filename string, detail proto.FileDetail, feedback *proto.ReviewVerdict) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Change request:\n%s\n\nGenerate the file %s.\n", req.Message, filename)

	if detail.Purpose != "" {
		fmt.Fprintf(&b, "\nPurpose: %s\n", detail.Purpose)
	}
	if len(detail.KeyFeatures) > 0 {
		b.WriteString("Key features:\n")
		for _, f := range detail.KeyFeatures {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}

	if feedback != nil && len(feedback.Issues) > 0 {
		b.WriteString("\nA reviewer raised these issues with your previous draft; address them:\n")
		for i := range feedback.Issues {
			issue := &feedback.Issues[i]
			fmt.Fprintf(&b, "- [%s] %s\n", issue.Severity, issue.Description)
		}
	}
	return b.String()
}

func buildReviewPrompt(filename, draft string) string {
	return fmt.Sprintf("Review this draft of %s:\n\n%s", filename, draft)
}

func buildModifyPrompt(req *proto.ChangeRequest, plan *proto.Plan, filename, original string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Change request:\n%s\n", req.Message)
	if plan.Summary != "" {
		fmt.Fprintf(&b, "\nPlan: %s\n", plan.Summary)
	}
	if detail := plan.Detail(filename); detail.Purpose != "" {
		fmt.Fprintf(&b, "This file's role in the change: %s\n", detail.Purpose)
	}
	fmt.Fprintf(&b, "\nCurrent content of %s:\n%s\n\nOutput the complete updated file.", filename, original)
	return b.String()
}

// stripCodeFence removes a surrounding markdown fence if the model added one
// despite instructions. Inner fences are left alone.
func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	rest := trimmed[3:]
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		rest = rest[nl+1:]
	}
	if end := strings.LastIndex(rest, "```"); end != -1 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// parseVerdict decodes a critic response.
func parseVerdict(text string) (proto.ReviewVerdict, error) {
	var verdict proto.ReviewVerdict
	if err := utils.DecodeJSON(text, &verdict); err != nil {
		return proto.ReviewVerdict{}, fmt.Errorf("critic output unparsable: %w", err)
	}
	return verdict, nil
}
