// Package coder implements the file-producing stages: concurrent generation
// of new files (each behind its own reflection loop) and sequential
// modification of existing files.
package coder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"patchsmith/pkg/config"
	"patchsmith/pkg/events"
	"patchsmith/pkg/llm"
	"patchsmith/pkg/logx"
	"patchsmith/pkg/metrics"
	"patchsmith/pkg/proto"
	"patchsmith/pkg/reflection"
	"patchsmith/pkg/utils"
)

// GenerationStage fans out one reflection loop per file to create.
type GenerationStage struct {
	coder   llm.Client
	critic  llm.Client
	budgets config.Budgets
	timeout time.Duration
	emitter *events.Emitter
	logger  *logx.Logger
}

// NewGenerationStage creates a generation stage.
func NewGenerationStage(coder, critic llm.Client, budgets config.Budgets, timeout time.Duration, emitter *events.Emitter) *GenerationStage {
	return &GenerationStage{
		coder:   coder,
		critic:  critic,
		budgets: budgets,
		timeout: timeout,
		emitter: emitter,
		logger:  logx.NewLogger("coder"),
	}
}

// Run generates every file in plan.FilesToCreate concurrently. Failures are
// isolated per file: a slot whose collaborators fail still yields a
// FileOperation carrying whatever best-effort content was last produced, and
// its siblings are unaffected. The output always has exactly one entry per
// planned file, in plan order.
func (s *GenerationStage) Run(ctx context.Context, plan *proto.Plan, req *proto.ChangeRequest, route *proto.RouteDecision) ([]proto.FileOperation, int) {
	files := plan.FilesToCreate
	ops := make([]proto.FileOperation, len(files))

	s.emitter.Phase(fmt.Sprintf("generating %d file(s)", len(files)))

	var wg sync.WaitGroup
	for i, filename := range files {
		wg.Add(1)
		go func(slot int, filename string) {
			defer wg.Done()
			ops[slot] = s.generateOne(ctx, plan, req, route, filename)
		}(i, filename)
	}
	wg.Wait()

	mean := meanQuality(ops)
	if mean > 0 {
		s.logger.Info("generated %d file(s), mean quality %d", len(ops), mean)
	}
	return ops, mean
}

// generateOne runs a single file's reflection loop. It never lets a failure
// escape: panics and errors degrade to a best-effort operation.
func (s *GenerationStage) generateOne(ctx context.Context, plan *proto.Plan, req *proto.ChangeRequest, route *proto.RouteDecision, filename string) (op proto.FileOperation) {
	// Content must stay a defined string even if everything below fails.
	op = proto.FileOperation{
		Type:     proto.OpCreate,
		Filename: filename,
		Content:  "",
	}

	var lastContent string
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("generation of %s panicked: %v", filename, r)
			s.emitter.Warning(fmt.Sprintf("generation of %s failed", filename), fmt.Sprint(r))
			op.Content = lastContent
			op.Validated = false
			op.QualityScore = nil
		}
	}()

	s.emitter.Emit(events.TypeFileOperation, fmt.Sprintf("generating %s", filename), map[string]string{
		"filename": filename, "status": "start",
	})

	detail := plan.Detail(filename)
	cfg := reflection.Config{
		MaxIterations:    s.budgets.MaxIterations,
		QualityThreshold: s.budgets.QualityThreshold,
		Disabled:         route.SkipReflection,
	}
	if req.Options.MaxIterations > 0 {
		cfg.MaxIterations = req.Options.MaxIterations
	}

	outcome, err := reflection.Run(ctx, cfg,
		func(ctx context.Context, feedback *proto.ReviewVerdict) (string, error) {
			content, err := s.generateDraft(ctx, req, filename, detail, feedback)
			if err == nil {
				lastContent = content
			}
			return content, err
		},
		func(ctx context.Context, draft string) (proto.ReviewVerdict, error) {
			return s.critiqueDraft(ctx, filename, draft)
		},
	)
	if err != nil {
		s.logger.Warn("generation of %s failed: %v", filename, err)
		s.emitter.Warning(fmt.Sprintf("generation of %s failed", filename), err.Error())
		op.Content = lastContent
		return op
	}

	metrics.ObserveReflection("generation", len(outcome.History))

	op.Content = outcome.Final
	op.Validated = true
	op.ReflectionHistory = outcome.History
	if outcome.LastVerdict != nil {
		score := outcome.LastVerdict.QualityScore
		op.QualityScore = &score
	}

	s.emitter.Emit(events.TypeFileOperation, fmt.Sprintf("generated %s", filename), map[string]string{
		"filename": filename, "status": "complete", "stop_reason": string(outcome.Reason),
	})
	return op
}

func (s *GenerationStage) generateDraft(ctx context.Context, req *proto.ChangeRequest, filename string, detail proto.FileDetail, feedback *proto.ReviewVerdict) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	userPrompt := buildGeneratePrompt(req, filename, detail, feedback)
	resp, err := s.coder.Complete(ctx, llm.NewRequest(coderSystemPrompt, userPrompt, 0, llm.TemperatureDeterministic))
	metrics.RecordLLMCall("coder", s.coder.ModelName(), err == nil)
	if err != nil {
		return "", fmt.Errorf("coder call for %s failed: %w", filename, err)
	}
	metrics.RecordLLMTokens("coder", utils.EstimateTokens(userPrompt), utils.EstimateTokens(resp.Content))

	content := stripCodeFence(resp.Content)
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("coder returned empty content for %s", filename)
	}
	return content, nil
}

func (s *GenerationStage) critiqueDraft(ctx context.Context, filename, draft string) (proto.ReviewVerdict, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.critic.Complete(ctx, llm.NewRequest(codeCriticSystemPrompt, buildReviewPrompt(filename, draft), 0, llm.TemperatureDefault))
	metrics.RecordLLMCall("code_critic", s.critic.ModelName(), err == nil)
	if err != nil {
		return proto.ReviewVerdict{}, fmt.Errorf("critic call for %s failed: %w", filename, err)
	}

	verdict, err := parseVerdict(resp.Content)
	if err != nil {
		return proto.ReviewVerdict{}, err
	}
	s.emitter.Emit(events.TypeReview, fmt.Sprintf("review of %s: score %d", filename, verdict.QualityScore), verdict)
	return verdict, nil
}

func meanQuality(ops []proto.FileOperation) int {
	sum, n := 0, 0
	for i := range ops {
		if ops[i].QualityScore != nil {
			sum += *ops[i].QualityScore
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / n
}
