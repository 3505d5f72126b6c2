// Package planner produces the structured change plan for a run by driving
// a reflection loop over a planner/critic collaborator pair.
package planner

import (
	"context"
	"fmt"
	"sort"
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

// Stage runs the planning phase.
type Stage struct {
	planner llm.Client
	critic  llm.Client
	budgets config.Budgets
	timeout time.Duration
	emitter *events.Emitter
	logger  *logx.Logger
}

// NewStage creates a plan stage.
func NewStage(planner, critic llm.Client, budgets config.Budgets, timeout time.Duration, emitter *events.Emitter) *Stage {
	return &Stage{
		planner: planner,
		critic:  critic,
		budgets: budgets,
		timeout: timeout,
		emitter: emitter,
		logger:  logx.NewLogger("planner"),
	}
}

// Run produces a plan for the request. The plan critic gates on two scores:
// quality and creativity must both clear their thresholds. The iteration cap
// is deliberately small (plans are cheaper to misjudge than code).
func (s *Stage) Run(ctx context.Context, req *proto.ChangeRequest) (*proto.Plan, []proto.IterationRecord, error) {
	s.emitter.Phase("planning changes")

	qualityThreshold := s.budgets.PlanQualityThreshold
	creativityThreshold := s.budgets.PlanCreativityThreshold

	cfg := reflection.Config{
		MaxIterations:    s.budgets.PlanIterations,
		QualityThreshold: qualityThreshold,
		Accept: func(v *proto.ReviewVerdict) bool {
			return v.Approved &&
				v.QualityScore >= qualityThreshold &&
				v.CreativityScore >= creativityThreshold
		},
	}

	outcome, err := reflection.Run(ctx, cfg,
		func(ctx context.Context, feedback *proto.ReviewVerdict) (*proto.Plan, error) {
			return s.generate(ctx, req, feedback)
		},
		func(ctx context.Context, plan *proto.Plan) (proto.ReviewVerdict, error) {
			return s.critique(ctx, req, plan)
		},
	)
	if err != nil {
		return nil, nil, fmt.Errorf("plan stage failed: %w", err)
	}

	s.logger.Info("plan accepted (%s): %d to create, %d to modify",
		outcome.Reason, len(outcome.Final.FilesToCreate), len(outcome.Final.FilesToModify))
	s.emitter.Emit(events.TypePlan, "plan ready", outcome.Final)

	return outcome.Final, outcome.History, nil
}

func (s *Stage) generate(ctx context.Context, req *proto.ChangeRequest, feedback *proto.ReviewVerdict) (*proto.Plan, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	userPrompt := buildPlanPrompt(req, feedback)
	resp, err := s.planner.Complete(ctx, llm.NewRequest(plannerSystemPrompt, userPrompt, 0, llm.TemperatureDefault))
	metrics.RecordLLMCall("planner", s.planner.ModelName(), err == nil)
	if err != nil {
		return nil, fmt.Errorf("planner call failed: %w", err)
	}
	metrics.RecordLLMTokens("planner", utils.EstimateTokens(userPrompt), utils.EstimateTokens(resp.Content))

	var plan proto.Plan
	if err := utils.DecodeJSON(resp.Content, &plan); err != nil {
		return nil, fmt.Errorf("planner output unparsable: %w", err)
	}
	normalizePlan(&plan)
	return &plan, nil
}

func (s *Stage) critique(ctx context.Context, req *proto.ChangeRequest, plan *proto.Plan) (proto.ReviewVerdict, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	userPrompt := buildPlanReviewPrompt(req, plan)
	resp, err := s.critic.Complete(ctx, llm.NewRequest(planCriticSystemPrompt, userPrompt, 0, llm.TemperatureDefault))
	metrics.RecordLLMCall("plan_critic", s.critic.ModelName(), err == nil)
	if err != nil {
		return proto.ReviewVerdict{}, fmt.Errorf("plan critic call failed: %w", err)
	}

	var verdict proto.ReviewVerdict
	if err := utils.DecodeJSON(resp.Content, &verdict); err != nil {
		return proto.ReviewVerdict{}, fmt.Errorf("plan critic output unparsable: %w", err)
	}
	s.emitter.Emit(events.TypeReview, fmt.Sprintf("plan review: quality %d, creativity %d",
		verdict.QualityScore, verdict.CreativityScore), verdict)
	return verdict, nil
}

// Trivial synthesizes the plan used when routing skips the plan stage:
// every existing file is a modification target and nothing is created.
func Trivial(req *proto.ChangeRequest) *proto.Plan {
	files := make([]string, 0, len(req.CurrentFiles))
	for name := range req.CurrentFiles {
		files = append(files, name)
	}
	sort.Strings(files)
	return &proto.Plan{
		FilesToModify: files,
		Summary:       "direct modification without planning",
	}
}

// normalizePlan drops duplicate and empty filenames so downstream stages can
// trust the file lists.
func normalizePlan(plan *proto.Plan) {
	plan.FilesToCreate = dedupe(plan.FilesToCreate)
	plan.FilesToModify = dedupe(plan.FilesToModify)
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0]
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
