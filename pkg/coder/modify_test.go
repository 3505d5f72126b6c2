package coder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchsmith/pkg/events"
	"patchsmith/pkg/llm"
	"patchsmith/pkg/proto"
)

func TestModificationRewritesFile(t *testing.T) {
	client := &llm.MockClient{
		Script: func(in llm.CompletionRequest) (llm.CompletionResponse, error) {
			prompt := in.Messages[len(in.Messages)-1].Content
			require.Contains(t, prompt, "bg-red-500", "original content must reach the modifier")
			return llm.CompletionResponse{Content: `<div className="bg-blue-500">App</div>`}, nil
		},
	}
	stage := NewModificationStage(client, time.Second, events.NewEmitter(nil))

	plan := &proto.Plan{FilesToModify: []string{"App.jsx"}}
	req := &proto.ChangeRequest{
		Message:      "make it blue",
		CurrentFiles: map[string]string{"App.jsx": `<div className="bg-red-500">App</div>`},
	}

	ops := stage.Run(context.Background(), plan, req)
	require.Len(t, ops, 1)
	assert.Equal(t, proto.OpModify, ops[0].Type)
	assert.True(t, ops[0].Validated)
	assert.Contains(t, ops[0].Content, "bg-blue-500")
	assert.NotContains(t, ops[0].Content, "bg-red-500")
}

func TestModificationSkipsMissingFilesWithWarning(t *testing.T) {
	client := &llm.MockClient{
		Script: func(llm.CompletionRequest) (llm.CompletionResponse, error) {
			return llm.CompletionResponse{Content: "updated"}, nil
		},
	}
	collector := &events.Collector{}
	stage := NewModificationStage(client, time.Second, events.NewEmitter(collector))

	plan := &proto.Plan{FilesToModify: []string{"missing.js", "present.js"}}
	req := &proto.ChangeRequest{
		Message:      "update things",
		CurrentFiles: map[string]string{"present.js": "old"},
	}

	ops := stage.Run(context.Background(), plan, req)
	require.Len(t, ops, 1)
	assert.Equal(t, "present.js", ops[0].Filename)

	warnings := collector.ByType(events.TypeWarning)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "missing.js")
}

func TestModificationFailureKeepsOriginalContent(t *testing.T) {
	client := &llm.MockClient{
		Script: func(llm.CompletionRequest) (llm.CompletionResponse, error) {
			return llm.CompletionResponse{}, errors.New("provider down")
		},
	}
	collector := &events.Collector{}
	stage := NewModificationStage(client, time.Second, events.NewEmitter(collector))

	plan := &proto.Plan{FilesToModify: []string{"a.js"}}
	req := &proto.ChangeRequest{Message: "change it", CurrentFiles: map[string]string{"a.js": "original"}}

	ops := stage.Run(context.Background(), plan, req)
	require.Len(t, ops, 1)
	assert.Equal(t, "original", ops[0].Content)
	assert.False(t, ops[0].Validated)
	assert.NotEmpty(t, collector.ByType(events.TypeWarning))
}

func TestModificationIsSequentialSinglePass(t *testing.T) {
	client := &llm.MockClient{
		Script: func(llm.CompletionRequest) (llm.CompletionResponse, error) {
			return llm.CompletionResponse{Content: "new"}, nil
		},
	}
	stage := NewModificationStage(client, time.Second, events.NewEmitter(nil))

	plan := &proto.Plan{FilesToModify: []string{"a", "b", "c"}}
	req := &proto.ChangeRequest{
		Message:      "update",
		CurrentFiles: map[string]string{"a": "1", "b": "2", "c": "3"},
	}
	ops := stage.Run(context.Background(), plan, req)

	require.Len(t, ops, 3)
	// One pass means exactly one call per file, no reflection retries.
	assert.Equal(t, 3, client.Calls())
	// Output follows plan order.
	assert.Equal(t, []string{"a", "b", "c"}, []string{ops[0].Filename, ops[1].Filename, ops[2].Filename})
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"```js\nconst x = 1\n```", "const x = 1"},
		{"```\nraw\n```", "raw"},
		{"  ```go\npackage main\n```  ", "package main"},
		{"no fence ``` inside", "no fence ``` inside"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripCodeFence(tt.in), "input %q", tt.in)
	}
}
