package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchsmith/pkg/config"
	"patchsmith/pkg/events"
	"patchsmith/pkg/llm"
	"patchsmith/pkg/memory"
	"patchsmith/pkg/proto"
)

// alwaysFailBackend reports failure on every validation call.
type alwaysFailBackend struct{ calls int }

func (b *alwaysFailBackend) Name() string    { return "alwaysfail" }
func (b *alwaysFailBackend) Available() bool { return true }

func (b *alwaysFailBackend) Run(context.Context, map[string]string, time.Duration) (proto.ValidationResult, error) {
	b.calls++
	return proto.ValidationResult{
		Success:     false,
		Backend:     "alwaysfail",
		Diagnostics: []proto.Diagnostic{{Source: "test", Message: "still broken"}},
	}, nil
}

func testStore(t *testing.T) *memory.Store {
	t.Helper()
	store, err := memory.Open(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestPipeline(t *testing.T, client llm.Client, opts ...Option) *Pipeline {
	t.Helper()
	opts = append([]Option{WithClients(client), WithStore(testStore(t))}, opts...)
	p, err := New(config.Default(), opts...)
	require.NoError(t, err)
	return p
}

func TestRunFastPathScenario(t *testing.T) {
	// "make it blue" against a red component: planning and analysis are
	// skipped and the modifier swaps the color token.
	client := &llm.MockClient{
		Script: func(in llm.CompletionRequest) (llm.CompletionResponse, error) {
			prompt := in.Messages[len(in.Messages)-1].Content
			if strings.Contains(prompt, "bg-red-500") {
				return llm.CompletionResponse{
					Content: strings.ReplaceAll(extractFileBody(prompt), "bg-red-500", "bg-blue-500"),
				}, nil
			}
			return llm.CompletionResponse{}, errors.New("unexpected call")
		},
	}
	p := newTestPipeline(t, client)

	collector := &events.Collector{}
	req := &proto.ChangeRequest{
		Message:      "make it blue",
		CurrentFiles: map[string]string{"App": `<div className="bg-red-500">App</div>`},
	}
	result := p.Run(context.Background(), req, collector)

	require.True(t, result.Success, "error: %s", result.Error)
	route := result.Metadata.Route
	assert.Equal(t, "fast_edit", route.Path)
	assert.True(t, route.SkipPlan)
	assert.True(t, route.SkipAnalysis)

	require.Len(t, result.FileOperations, 1)
	op := result.FileOperations[0]
	assert.Contains(t, op.Content, "bg-blue-500")
	assert.NotContains(t, op.Content, "bg-red-500")
	assert.True(t, result.Metadata.TestsRun)
	assert.True(t, result.Metadata.TestsPassed)
}

// extractFileBody pulls the file content block out of a modification prompt.
func extractFileBody(prompt string) string {
	idx := strings.Index(prompt, "Current content of")
	if idx == -1 {
		return prompt
	}
	return prompt[idx:]
}

func TestRunExhaustedRepairScenario(t *testing.T) {
	// A backend that never passes: exactly maxDebugCycles validation calls,
	// debugCycles == 3, testsPassed == false, but overall success stays true
	// (partial) and a warning event is emitted.
	client := &llm.MockClient{
		Script: func(in llm.CompletionRequest) (llm.CompletionResponse, error) {
			if strings.Contains(in.Messages[0].Content, "debugging assistant") {
				return llm.CompletionResponse{
					Content: `{"can_fix": true, "explanation": "trying", "files": {"App": "attempt"}}`,
				}, nil
			}
			return llm.CompletionResponse{Content: "modified content"}, nil
		},
	}
	backend := &alwaysFailBackend{}
	p := newTestPipeline(t, client, WithBackend(backend))

	collector := &events.Collector{}
	req := &proto.ChangeRequest{
		Message:      "make it blue",
		CurrentFiles: map[string]string{"App": "content"},
		Options:      proto.RunOptions{MaxDebugCycles: 3},
	}
	result := p.Run(context.Background(), req, collector)

	assert.True(t, result.Success, "exhausted retries is partial success, not failure")
	assert.Equal(t, 3, backend.calls)
	assert.Equal(t, 3, result.Metadata.DebugCycles)
	assert.False(t, result.Metadata.TestsPassed)
	assert.NotEmpty(t, result.Metadata.TestResults)
	assert.NotEmpty(t, collector.ByType(events.TypeWarning))
}

func TestRunContentInvariant(t *testing.T) {
	// Even with every collaborator failing, every operation in the result
	// carries a defined content string.
	client := &llm.MockClient{
		Script: func(llm.CompletionRequest) (llm.CompletionResponse, error) {
			return llm.CompletionResponse{}, errors.New("provider down")
		},
	}
	p := newTestPipeline(t, client)

	req := &proto.ChangeRequest{
		Message:      "fix the broken thing",
		CurrentFiles: map[string]string{"a.js": "x", "b.js": "y"},
		Options:      proto.RunOptions{SkipValidation: true},
	}
	result := p.Run(context.Background(), req, events.Discard)

	require.True(t, result.Success)
	for _, op := range result.FileOperations {
		assert.NotNil(t, op.Content, "content must always be a defined string")
	}
}

func TestRunPlanStageFailureIsFriendly(t *testing.T) {
	client := &llm.MockClient{
		Script: func(llm.CompletionRequest) (llm.CompletionResponse, error) {
			return llm.CompletionResponse{}, errors.New("status code: 429 too many requests")
		},
	}
	p := newTestPipeline(t, client)

	collector := &events.Collector{}
	// Long, non-fast-path request so the plan stage runs.
	req := &proto.ChangeRequest{
		Message:      "please add a settings page with theme selection and notification preferences",
		CurrentFiles: map[string]string{"App.jsx": "x"},
	}
	result := p.Run(context.Background(), req, collector)

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
	require.NotNil(t, result.FriendlyError)
	assert.Equal(t, proto.ErrCategoryRateLimited, result.FriendlyError.Category)
	assert.NotEmpty(t, result.FriendlyError.Suggestion)
	assert.NotEmpty(t, collector.ByType(events.TypeError))
}

func TestRunPersistsConversationMemory(t *testing.T) {
	client := &llm.MockClient{
		Script: func(llm.CompletionRequest) (llm.CompletionResponse, error) {
			return llm.CompletionResponse{Content: "updated"}, nil
		},
	}
	store := testStore(t)
	p := newTestPipeline(t, client, WithStore(store))

	req := &proto.ChangeRequest{
		Message:      "make it blue",
		CurrentFiles: map[string]string{"App": "red"},
		Options:      proto.RunOptions{SkipValidation: true},
	}
	result := p.Run(context.Background(), req, events.Discard)
	require.True(t, result.Success)

	saved := store.Read(memory.KeyConversation, "")
	assert.Contains(t, saved, "make it blue")
	assert.Contains(t, saved, "fast_edit")
}

func TestDispatchOperation(t *testing.T) {
	tests := []struct {
		kind    string
		want    string
		wantErr bool
	}{
		{proto.IntentCreate, "create", false},
		{proto.IntentEdit, "modify", false},
		{proto.IntentBugfix, "modify", false},
		{proto.IntentQuestion, "answer", false},
		{"divination", "", true},
	}
	for _, tt := range tests {
		got, err := dispatchOperation(proto.Intent{Kind: tt.kind})
		if tt.wantErr {
			require.Error(t, err, "kind %q", tt.kind)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestFriendlyErrorMapping(t *testing.T) {
	tests := []struct {
		err  string
		want string
	}{
		{"rate limit exceeded, retry later", proto.ErrCategoryRateLimited},
		{"context deadline exceeded", proto.ErrCategoryTimedOut},
		{"dial tcp 10.0.0.1:443: connection refused", proto.ErrCategoryNetwork},
		{"401 unauthorized: invalid x-api-key", proto.ErrCategoryAuth},
		{"prompt exceeds maximum context length", proto.ErrCategoryTooComplex},
		{"something inexplicable happened", proto.ErrCategoryUnknown},
	}
	for _, tt := range tests {
		fe := friendlyError(errors.New(tt.err))
		require.NotNil(t, fe)
		assert.Equal(t, tt.want, fe.Category, "error %q", tt.err)
		assert.NotEmpty(t, fe.Message)
		assert.NotEmpty(t, fe.Suggestion)
	}
}
