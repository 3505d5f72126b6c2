package planner

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchsmith/pkg/config"
	"patchsmith/pkg/events"
	"patchsmith/pkg/llm"
	"patchsmith/pkg/proto"
)

func planBudgets() config.Budgets {
	return config.Budgets{
		MaxIterations:           3,
		QualityThreshold:        75,
		PlanIterations:          2,
		PlanQualityThreshold:    70,
		PlanCreativityThreshold: 60,
	}
}

const goodPlan = `{
  "summary": "add a footer",
  "files_to_create": ["Footer.jsx"],
  "files_to_modify": ["App.jsx"],
  "file_details": {"Footer.jsx": {"purpose": "site footer", "key_features": ["links"]}}
}`

func TestPlanStageAcceptsOnDualGate(t *testing.T) {
	client := &llm.MockClient{
		Script: func(in llm.CompletionRequest) (llm.CompletionResponse, error) {
			if strings.Contains(in.Messages[0].Content, "plan reviewer") {
				return llm.CompletionResponse{Content: `{"quality_score": 85, "creativity_score": 70, "approved": true}`}, nil
			}
			return llm.CompletionResponse{Content: goodPlan}, nil
		},
	}
	stage := NewStage(client, client, planBudgets(), time.Second, events.NewEmitter(nil))

	req := &proto.ChangeRequest{Message: "add a footer", CurrentFiles: map[string]string{"App.jsx": "x"}}
	plan, history, err := stage.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"Footer.jsx"}, plan.FilesToCreate)
	assert.Equal(t, []string{"App.jsx"}, plan.FilesToModify)
	assert.Equal(t, "site footer", plan.Detail("Footer.jsx").Purpose)
	require.Len(t, history, 1)
	assert.True(t, history[0].Approved)
}

func TestPlanStageLowCreativityBlocksAcceptance(t *testing.T) {
	// Quality clears its threshold but creativity does not: the gate holds
	// and the loop spends its full (small) budget.
	criticCalls := 0
	client := &llm.MockClient{
		Script: func(in llm.CompletionRequest) (llm.CompletionResponse, error) {
			if strings.Contains(in.Messages[0].Content, "plan reviewer") {
				criticCalls++
				return llm.CompletionResponse{Content: `{"quality_score": 90, "creativity_score": 10, "approved": true}`}, nil
			}
			return llm.CompletionResponse{Content: goodPlan}, nil
		},
	}
	stage := NewStage(client, client, planBudgets(), time.Second, events.NewEmitter(nil))

	req := &proto.ChangeRequest{Message: "add a footer"}
	plan, history, err := stage.Run(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, plan)

	assert.Equal(t, 2, criticCalls, "plan iteration cap is 2")
	assert.Len(t, history, 2)
}

func TestPlanStageUnparsablePlanFails(t *testing.T) {
	client := &llm.MockClient{
		Script: func(llm.CompletionRequest) (llm.CompletionResponse, error) {
			return llm.CompletionResponse{Content: "sure, here's an idea: add a footer"}, nil
		},
	}
	stage := NewStage(client, client, planBudgets(), time.Second, events.NewEmitter(nil))

	_, _, err := stage.Run(context.Background(), &proto.ChangeRequest{Message: "add a footer"})
	require.Error(t, err)
}

func TestPlanStageDedupesFileLists(t *testing.T) {
	plan := &proto.Plan{
		FilesToCreate: []string{"a.js", "a.js", "", "b.js"},
		FilesToModify: []string{"c.js", "c.js"},
	}
	normalizePlan(plan)
	assert.Equal(t, []string{"a.js", "b.js"}, plan.FilesToCreate)
	assert.Equal(t, []string{"c.js"}, plan.FilesToModify)
}

func TestTrivialPlanTargetsAllFilesSorted(t *testing.T) {
	req := &proto.ChangeRequest{
		Message:      "make it blue",
		CurrentFiles: map[string]string{"b.js": "2", "a.js": "1", "c.js": "3"},
	}
	plan := Trivial(req)

	assert.Empty(t, plan.FilesToCreate)
	assert.Equal(t, []string{"a.js", "b.js", "c.js"}, plan.FilesToModify)
	assert.NotEmpty(t, plan.Summary)
}
