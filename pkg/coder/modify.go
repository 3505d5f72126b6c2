package coder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"patchsmith/pkg/events"
	"patchsmith/pkg/llm"
	"patchsmith/pkg/logx"
	"patchsmith/pkg/metrics"
	"patchsmith/pkg/proto"
)

// ModificationStage edits existing files one at a time, in plan order.
// Unlike generation there is no reflection loop here: modifications are a
// single pass, and a file the caller never supplied is skipped with a
// warning rather than failing the run.
type ModificationStage struct {
	coder   llm.Client
	timeout time.Duration
	emitter *events.Emitter
	logger  *logx.Logger
	differ  *diffmatchpatch.DiffMatchPatch
}

// NewModificationStage creates a modification stage.
func NewModificationStage(coder llm.Client, timeout time.Duration, emitter *events.Emitter) *ModificationStage {
	return &ModificationStage{
		coder:   coder,
		timeout: timeout,
		emitter: emitter,
		logger:  logx.NewLogger("coder"),
		differ:  diffmatchpatch.New(),
	}
}

// Run modifies every file in plan.FilesToModify sequentially. A collaborator
// failure on one file keeps the original content for that file instead of
// dropping it, so downstream consumers always see a defined content string.
func (s *ModificationStage) Run(ctx context.Context, plan *proto.Plan, req *proto.ChangeRequest) []proto.FileOperation {
	if len(plan.FilesToModify) == 0 {
		return nil
	}
	s.emitter.Phase(fmt.Sprintf("modifying %d file(s)", len(plan.FilesToModify)))

	ops := make([]proto.FileOperation, 0, len(plan.FilesToModify))
	for _, filename := range plan.FilesToModify {
		original, ok := req.CurrentFiles[filename]
		if !ok {
			s.logger.Warn("planned modification target %s not in current files, skipping", filename)
			s.emitter.Warning(fmt.Sprintf("skipped %s", filename), "file not found in request")
			continue
		}

		op := proto.FileOperation{
			Type:     proto.OpModify,
			Filename: filename,
			Content:  original,
		}

		updated, err := s.modifyOne(ctx, req, plan, filename, original)
		if err != nil {
			s.logger.Warn("modification of %s failed, keeping original: %v", filename, err)
			s.emitter.Warning(fmt.Sprintf("modification of %s failed", filename), err.Error())
			ops = append(ops, op)
			continue
		}

		op.Content = updated
		op.Validated = true
		ops = append(ops, op)

		ins, del := s.changeCounts(original, updated)
		s.emitter.Emit(events.TypeFileOperation, fmt.Sprintf("modified %s (+%d/-%d chars)", filename, ins, del), map[string]string{
			"filename": filename, "status": "complete",
		})
	}
	return ops
}

func (s *ModificationStage) modifyOne(ctx context.Context, req *proto.ChangeRequest, plan *proto.Plan, filename, original string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	userPrompt := buildModifyPrompt(req, plan, filename, original)
	resp, err := s.coder.Complete(ctx, llm.NewRequest(modifierSystemPrompt, userPrompt, 0, llm.TemperatureDeterministic))
	metrics.RecordLLMCall("modifier", s.coder.ModelName(), err == nil)
	if err != nil {
		return "", fmt.Errorf("modifier call for %s failed: %w", filename, err)
	}

	content := stripCodeFence(resp.Content)
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("modifier returned empty content for %s", filename)
	}
	return content, nil
}

// changeCounts measures inserted and deleted characters between revisions.
func (s *ModificationStage) changeCounts(before, after string) (inserted, deleted int) {
	diffs := s.differ.DiffMain(before, after, false)
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			inserted += len(d.Text)
		case diffmatchpatch.DiffDelete:
			deleted += len(d.Text)
		case diffmatchpatch.DiffEqual:
		}
	}
	return inserted, deleted
}
