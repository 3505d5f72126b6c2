package coder

import (
	"context"
	"errors"
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

func testBudgets() config.Budgets {
	return config.Budgets{MaxIterations: 3, QualityThreshold: 75, MaxDebugCycles: 3}
}

func TestGenerationFanOutIsolation(t *testing.T) {
	// Three files; the generator for the second always fails. The other two
	// must be unaffected and the output must still have three entries.
	client := &llm.MockClient{
		Script: func(in llm.CompletionRequest) (llm.CompletionResponse, error) {
			prompt := in.Messages[len(in.Messages)-1].Content
			if strings.Contains(prompt, "b.js") {
				return llm.CompletionResponse{}, errors.New("provider exploded")
			}
			return llm.CompletionResponse{Content: "export const ok = true"}, nil
		},
	}

	collector := &events.Collector{}
	stage := NewGenerationStage(client, client, testBudgets(), time.Second, events.NewEmitter(collector))

	plan := &proto.Plan{FilesToCreate: []string{"a.js", "b.js", "c.js"}}
	route := &proto.RouteDecision{SkipReflection: true}
	req := &proto.ChangeRequest{Message: "create three modules"}

	ops, _ := stage.Run(context.Background(), plan, req, route)

	require.Len(t, ops, len(plan.FilesToCreate))
	byName := map[string]proto.FileOperation{}
	for _, op := range ops {
		byName[op.Filename] = op
	}

	assert.True(t, byName["a.js"].Validated)
	assert.True(t, byName["c.js"].Validated)
	assert.Equal(t, "export const ok = true", byName["a.js"].Content)
	assert.Equal(t, "export const ok = true", byName["c.js"].Content)

	failed := byName["b.js"]
	assert.False(t, failed.Validated)
	assert.NotNil(t, failed.Content, "content must stay a defined string")
	assert.Nil(t, failed.QualityScore)

	warnings := collector.ByType(events.TypeWarning)
	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0].Message, "b.js")
}

func TestGenerationOutputAlwaysMatchesPlan(t *testing.T) {
	// Even when every generator fails, one operation per planned file.
	client := &llm.MockClient{
		Script: func(llm.CompletionRequest) (llm.CompletionResponse, error) {
			return llm.CompletionResponse{}, errors.New("down")
		},
	}
	stage := NewGenerationStage(client, client, testBudgets(), time.Second, events.NewEmitter(nil))

	plan := &proto.Plan{FilesToCreate: []string{"x", "y", "z"}}
	ops, mean := stage.Run(context.Background(), plan, &proto.ChangeRequest{Message: "m"}, &proto.RouteDecision{})

	require.Len(t, ops, 3)
	assert.Zero(t, mean)
	for _, op := range ops {
		assert.Equal(t, proto.OpCreate, op.Type)
		assert.Equal(t, "", op.Content)
		assert.False(t, op.Validated)
	}
}

func TestGenerationWithReflection(t *testing.T) {
	client := &llm.MockClient{
		Script: func(in llm.CompletionRequest) (llm.CompletionResponse, error) {
			system := in.Messages[0].Content
			if strings.Contains(system, "code reviewer") {
				return llm.CompletionResponse{Content: `{"quality_score": 88, "approved": true, "issues": []}`}, nil
			}
			return llm.CompletionResponse{Content: "```js\nexport const ok = 1\n```"}, nil
		},
	}
	collector := &events.Collector{}
	stage := NewGenerationStage(client, client, testBudgets(), time.Second, events.NewEmitter(collector))

	plan := &proto.Plan{
		FilesToCreate: []string{"main.js"},
		FileDetails:   map[string]proto.FileDetail{"main.js": {Purpose: "entry point"}},
	}
	ops, mean := stage.Run(context.Background(), plan, &proto.ChangeRequest{Message: "create it"}, &proto.RouteDecision{})

	require.Len(t, ops, 1)
	op := ops[0]
	assert.True(t, op.Validated)
	assert.Equal(t, "export const ok = 1", op.Content, "code fence must be stripped")
	require.NotNil(t, op.QualityScore)
	assert.Equal(t, 88, *op.QualityScore)
	assert.Equal(t, 88, mean)
	require.Len(t, op.ReflectionHistory, 1)
	assert.True(t, op.ReflectionHistory[0].Approved)

	reviews := collector.ByType(events.TypeReview)
	assert.NotEmpty(t, reviews)
}

func TestGenerationPerFileEventOrdering(t *testing.T) {
	client := &llm.MockClient{
		Script: func(llm.CompletionRequest) (llm.CompletionResponse, error) {
			return llm.CompletionResponse{Content: "content"}, nil
		},
	}
	collector := &events.Collector{}
	stage := NewGenerationStage(client, client, testBudgets(), time.Second, events.NewEmitter(collector))

	plan := &proto.Plan{FilesToCreate: []string{"a", "b", "c", "d"}}
	stage.Run(context.Background(), plan, &proto.ChangeRequest{Message: "m"}, &proto.RouteDecision{SkipReflection: true})

	// Start/complete events may interleave across files, but each file's own
	// events must be ordered start before complete.
	started := map[string]bool{}
	for _, ev := range collector.ByType(events.TypeFileOperation) {
		data, ok := ev.Data.(map[string]string)
		require.True(t, ok)
		switch data["status"] {
		case "start":
			started[data["filename"]] = true
		case "complete":
			assert.True(t, started[data["filename"]], "complete before start for %s", data["filename"])
		}
	}
	assert.Len(t, started, 4)
}
