package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"patchsmith/pkg/events"
	"patchsmith/pkg/memory"
	"patchsmith/pkg/proto"
)

// runContext carries all per-run state. It is created at the pipeline
// boundary and threaded through the stages; nothing about a run lives in
// package or process globals.
type runContext struct {
	req     *proto.ChangeRequest
	emitter *events.Emitter
	store   *memory.Store

	route proto.RouteDecision
	plan  *proto.Plan

	// conversation is the memory snapshot loaded at entry.
	conversation string
}

func newRunContext(req *proto.ChangeRequest, emitter *events.Emitter, store *memory.Store) *runContext {
	return &runContext{req: req, emitter: emitter, store: store}
}

// enter loads persistent context. Called exactly once, before any stage runs.
func (rc *runContext) enter() {
	if rc.store == nil {
		return
	}
	rc.conversation = rc.store.Read(memory.KeyConversation, "")
}

// exit persists the run's outcome for future requests. Called exactly once,
// after the result is final. Store failures are advisory.
func (rc *runContext) exit(result *proto.Result) {
	if rc.store == nil {
		return
	}

	record := conversationRecord{
		At:      time.Now().UTC().Format(time.RFC3339),
		Message: rc.req.Message,
		Route:   rc.route.Path,
		Success: result.Success,
		Files:   fileNames(result.FileOperations),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := rc.store.Write(memory.KeyConversation, string(data)); err != nil {
		rc.emitter.Warning("failed to persist conversation memory", err.Error())
	}
}

// conversationRecord is the shape written to the persistent store after each
// run: enough for the next run to know what just happened.
type conversationRecord struct {
	At      string   `json:"at"`
	Message string   `json:"message"`
	Route   string   `json:"route"`
	Success bool     `json:"success"`
	Files   []string `json:"files,omitempty"`
}

func fileNames(ops []proto.FileOperation) []string {
	names := make([]string, 0, len(ops))
	for i := range ops {
		names = append(names, fmt.Sprintf("%s:%s", ops[i].Type, ops[i].Filename))
	}
	sort.Strings(names)
	return names
}
