// Package pipeline wires the stages together: route, plan, generate or
// modify, validate, report. One Pipeline serves many runs; all per-run state
// lives in a runContext threaded through the stages.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"patchsmith/pkg/coder"
	"patchsmith/pkg/config"
	"patchsmith/pkg/consult"
	"patchsmith/pkg/events"
	"patchsmith/pkg/exec"
	"patchsmith/pkg/llm"
	"patchsmith/pkg/logx"
	"patchsmith/pkg/memory"
	"patchsmith/pkg/metrics"
	"patchsmith/pkg/planner"
	"patchsmith/pkg/proto"
	"patchsmith/pkg/router"
	"patchsmith/pkg/validate"
)

// Pipeline is the long-lived orchestrator. Construct once, run many times.
type Pipeline struct {
	cfg        config.Config
	classifier router.Classifier
	clients    clients
	backend    exec.Backend
	bus        *consult.Bus
	store      *memory.Store
	logger     *logx.Logger
}

// clients groups the per-role collaborator clients.
type clients struct {
	planner llm.Client
	coder   llm.Client
	critic  llm.Client
	repair  llm.Client
}

// Option customizes a Pipeline, mainly for tests.
type Option func(*Pipeline)

// WithClassifier replaces the heuristic classifier.
func WithClassifier(c router.Classifier) Option {
	return func(p *Pipeline) { p.classifier = c }
}

// WithClients replaces all collaborator clients with the given one.
func WithClients(c llm.Client) Option {
	return func(p *Pipeline) {
		p.clients = clients{planner: c, coder: c, critic: c, repair: c}
	}
}

// WithBackend replaces the validation backend.
func WithBackend(b exec.Backend) Option {
	return func(p *Pipeline) { p.backend = b }
}

// WithStore replaces the persistent context store.
func WithStore(s *memory.Store) Option {
	return func(p *Pipeline) { p.store = s }
}

// New constructs a pipeline from configuration.
func New(cfg config.Config, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		cfg:        cfg,
		classifier: router.NewHeuristic(router.DefaultThresholds()),
		bus:        consult.NewBus(cfg.Timeouts.Consultation),
		logger:     logx.NewLogger("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.clients == (clients{}) {
		var err error
		if p.clients.planner, err = llm.NewClient(cfg.Models.Role("planner")); err != nil {
			return nil, fmt.Errorf("planner client: %w", err)
		}
		if p.clients.coder, err = llm.NewClient(cfg.Models.Role("coder")); err != nil {
			return nil, fmt.Errorf("coder client: %w", err)
		}
		if p.clients.critic, err = llm.NewClient(cfg.Models.Role("critic")); err != nil {
			return nil, fmt.Errorf("critic client: %w", err)
		}
		if p.clients.repair, err = llm.NewClient(cfg.Models.Role("repair")); err != nil {
			return nil, fmt.Errorf("repair client: %w", err)
		}
	}

	if p.backend == nil {
		backend, err := exec.New(cfg.Validation)
		if err != nil {
			return nil, err
		}
		p.backend = backend
	}

	if p.store == nil {
		store, err := memory.Open(cfg.MemoryDB)
		if err != nil {
			return nil, fmt.Errorf("memory store: %w", err)
		}
		p.store = store
	}

	p.registerResponders()
	return p, nil
}

// Bus exposes the consultation bus, mainly so callers can inspect history.
func (p *Pipeline) Bus() *consult.Bus { return p.bus }

// Close releases held resources.
func (p *Pipeline) Close() error {
	if p.store != nil {
		return p.store.Close()
	}
	return nil
}

// Run executes one pipeline run. It never panics and always returns a
// well-formed result; collaborator failures surface as a friendly error.
func (p *Pipeline) Run(ctx context.Context, req *proto.ChangeRequest, sink events.Sink) *proto.Result {
	started := time.Now()
	rc := newRunContext(req, events.NewEmitter(sink), p.store)
	rc.enter()

	result := p.run(ctx, rc)
	result.Metadata.Route = rc.route

	rc.exit(result)
	metrics.RecordRun(rc.route.Path, result.Success, time.Since(started))

	if result.Success {
		rc.emitter.Emit(events.TypeSuccess, "run complete", result.Metadata)
	} else {
		rc.emitter.Emit(events.TypeError, result.Error, result.FriendlyError)
	}
	return result
}

func (p *Pipeline) run(ctx context.Context, rc *runContext) *proto.Result {
	req := rc.req

	intent := router.DeriveIntent(req.Message, req.CurrentFiles)
	rc.route = p.classifier.Classify(req.Message, intent, req.CurrentFiles)
	rc.emitter.Phase(fmt.Sprintf("routed: %s (%s)", rc.route.Path, rc.route.Reason))
	p.logger.Info("route %s, time class %s", rc.route.Path, rc.route.TimeClass)

	operation, err := dispatchOperation(intent)
	if err != nil {
		// The one fatal branch: an intent the dispatcher does not recognize
		// means the classifier itself misbehaved.
		return p.failure(err)
	}

	plan, _, err := p.plan(ctx, rc)
	if err != nil {
		return p.failure(err)
	}
	rc.plan = plan

	p.enrichPlan(ctx, plan)

	ops, meanQuality := p.produce(ctx, rc)
	if len(ops) == 0 {
		rc.emitter.Warning("no file changes produced", plan.Summary)
	}

	result := &proto.Result{
		Success:        true,
		FileOperations: ops,
		Plan:           plan,
		Metadata: proto.Metadata{
			Operation:      operation,
			FilesGenerated: countCreates(ops),
			MeanQuality:    meanQuality,
		},
	}

	if req.Options.SkipValidation || len(ops) == 0 {
		return result
	}

	repairer := validate.NewRepairer(p.clients.repair, p.cfg.Timeouts.LLM)
	loop := validate.NewLoop(p.backend, repairer, p.cfg.Budgets, p.cfg.Timeouts.Validation, rc.emitter)
	outcome := loop.Run(ctx, ops, req.Options.MaxDebugCycles)

	result.FileOperations = outcome.Ops
	result.Metadata.TestsRun = true
	result.Metadata.TestsPassed = outcome.TestsPassed
	result.Metadata.DebugCycles = outcome.Cycles
	result.Metadata.TestResults = outcome.LastResult.Summary()
	return result
}

// plan produces the run's plan, synthesizing a trivial one when routing
// skipped the plan stage.
func (p *Pipeline) plan(ctx context.Context, rc *runContext) (*proto.Plan, []proto.IterationRecord, error) {
	if rc.route.SkipPlan {
		return planner.Trivial(rc.req), nil, nil
	}
	stage := planner.NewStage(p.clients.planner, p.clients.critic, p.cfg.Budgets, p.cfg.Timeouts.LLM, rc.emitter)
	return stage.Run(ctx, rc.req)
}

// produce runs generation for new files, then modification for existing ones.
func (p *Pipeline) produce(ctx context.Context, rc *runContext) ([]proto.FileOperation, int) {
	var ops []proto.FileOperation
	meanQuality := 0

	if len(rc.plan.FilesToCreate) > 0 {
		stage := coder.NewGenerationStage(p.clients.coder, p.clients.critic, p.cfg.Budgets, p.cfg.Timeouts.LLM, rc.emitter)
		created, mean := stage.Run(ctx, rc.plan, rc.req, &rc.route)
		ops = append(ops, created...)
		meanQuality = mean
	}

	if len(rc.plan.FilesToModify) > 0 {
		stage := coder.NewModificationStage(p.clients.coder, p.cfg.Timeouts.LLM, rc.emitter)
		ops = append(ops, stage.Run(ctx, rc.plan, rc.req)...)
	}
	return ops, meanQuality
}

// enrichPlan fills in missing per-file intent by consulting the plan stage.
// Consultations are advisory; a fallback answer is used verbatim.
func (p *Pipeline) enrichPlan(ctx context.Context, plan *proto.Plan) {
	for _, name := range plan.FilesToCreate {
		if plan.Detail(name).Purpose != "" {
			continue
		}
		answer := p.bus.Ask(ctx, proto.Consultation{
			FromStage: "coder",
			ToStage:   "planner",
			Kind:      "purpose",
			Question:  fmt.Sprintf("In one sentence, what should the file %s contain for this plan: %s", name, plan.Summary),
		})
		if plan.FileDetails == nil {
			plan.FileDetails = make(map[string]proto.FileDetail)
		}
		plan.FileDetails[name] = proto.FileDetail{Purpose: answer.Text}
	}
}

// registerResponders wires the stages reachable over the consultation bus.
func (p *Pipeline) registerResponders() {
	p.bus.SetFallback("purpose", "implement the part of the plan this file is named for")
	p.bus.RegisterResponder("planner", func(ctx context.Context, c proto.Consultation) (string, error) {
		resp, err := p.clients.planner.Complete(ctx, llm.NewRequest(
			"Answer the question in one short sentence. No preamble.",
			c.Question, 256, llm.TemperatureDefault))
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	})
}

func (p *Pipeline) failure(err error) *proto.Result {
	p.logger.Error("run failed: %v", err)
	return &proto.Result{
		Success:       false,
		Error:         err.Error(),
		FriendlyError: friendlyError(err),
	}
}

// dispatchOperation maps an intent to the operation recorded in metadata.
// An unrecognized intent kind is fatal: it should be impossible under normal
// classifier behavior.
func dispatchOperation(intent proto.Intent) (string, error) {
	switch intent.Kind {
	case proto.IntentCreate:
		return "create", nil
	case proto.IntentEdit, proto.IntentBugfix:
		return "modify", nil
	case proto.IntentQuestion:
		return "answer", nil
	default:
		return "", fmt.Errorf("unrecognized intent %q reached dispatch", intent.Kind)
	}
}

func countCreates(ops []proto.FileOperation) int {
	n := 0
	for i := range ops {
		if ops[i].Type == proto.OpCreate {
			n++
		}
	}
	return n
}
