package workflow

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/graphflow/llm"
	"github.com/BaSui01/graphflow/types"
)

// ModelResolver is the slice of the model gateway the executor needs to label
// steps with the model that served them.
type ModelResolver interface {
	Model(class llm.ModelClass) string
	Provider() string
}

// Metrics receives execution counters. A nil Metrics disables collection.
type Metrics interface {
	NodeProcessed(nodeType, state string, seconds float64)
	RunCompleted(status string, seconds float64)
}

// Executor drives workflow nodes in dependency order, applies the exclusion
// policy, invokes agent handlers, and emits progress events.
type Executor struct {
	registry    *Registry
	models      ModelResolver
	extractor   Extractor
	metrics     Metrics
	maxParallel int
	logger      *zap.Logger
}

// ExecutorOption customises executor construction.
type ExecutorOption func(*Executor)

// WithExtractor installs the upload-format extractor.
func WithExtractor(extractor Extractor) ExecutorOption {
	return func(e *Executor) { e.extractor = extractor }
}

// WithMetrics installs an execution metrics sink.
func WithMetrics(metrics Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = metrics }
}

// WithMaxParallel bounds concurrent node evaluation. 1 (the default) evaluates
// strictly sequentially for deterministic replay.
func WithMaxParallel(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxParallel = n
		}
	}
}

// NewExecutor creates an executor over the given registry and model resolver.
func NewExecutor(registry *Registry, models ModelResolver, logger *zap.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:    registry,
		models:      models,
		maxParallel: 1,
		logger:      logger.With(zap.String("component", "executor")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// selection records one published selected_tools set and its publisher.
type selection struct {
	publisher string
	allowed   map[string]bool
}

// runState is the mutable state of one run. It is only touched by the
// scheduling goroutine; agent goroutines work on snapshots.
type runState struct {
	states               map[string]NodeState
	steps                []Step
	answer               string
	outputFormat         string
	lastGeneratorContent string
	selections           []selection
	start                time.Time
}

// errCancelled signals that the consumer went away or the deadline passed;
// the run stops without further events.
var errCancelled = types.NewError(types.ErrCancelled, "run cancelled")

// Execute runs the planned workflow and emits events onto stream. The stream
// is closed when Execute returns. Every event sequence ends in exactly one
// Done or Error event unless the run is cancelled.
func (e *Executor) Execute(ctx context.Context, w *Workflow, plan *Plan, store *ContextStore, stream *Stream) {
	defer stream.Close()

	runID := uuid.NewString()
	ctx, span := otel.Tracer("graphflow/workflow").Start(ctx, "workflow.execute")
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.Int("run.nodes", len(w.Nodes)),
	)
	defer span.End()

	run := &runState{
		states: make(map[string]NodeState, len(w.Nodes)),
		start:  time.Now(),
	}
	for _, node := range w.Nodes {
		run.states[node.ID] = StatePending
	}

	e.seedContext(w, plan, store)

	logger := e.logger.With(zap.String("run_id", runID))
	logger.Info("run started",
		zap.Int("nodes", len(w.Nodes)),
		zap.Int("edges", len(w.Edges)),
		zap.Strings("order", plan.Order),
	)

	err := e.runNodes(ctx, w, plan, store, stream, run, logger)
	switch {
	case err == nil:
		// Unreachable nodes never started; settle them as excluded before the
		// terminal event, without emitting per-node events.
		for id, state := range run.states {
			if state == StatePending {
				run.states[id] = StateExcluded
			}
		}
		e.emitDone(ctx, store, stream, run, logger)
		e.recordRun("done", run)

	case types.GetErrorCode(err) == types.ErrCancelled:
		logger.Info("run cancelled", zap.Duration("elapsed", time.Since(run.start)))
		e.recordRun("cancelled", run)

	default:
		logger.Error("run failed", zap.Error(err))
		stream.Emit(ctx, Event{Type: EventError, Message: err.Error()})
		e.recordRun("error", run)
	}
}

func (e *Executor) recordRun(status string, run *runState) {
	if e.metrics != nil {
		e.metrics.RunCompleted(status, time.Since(run.start).Seconds())
	}
}

// seedContext provisions the generic graph information every agent may read.
func (e *Executor) seedContext(w *Workflow, plan *Plan, store *ContextStore) {
	if strings.TrimSpace(w.Message) != "" {
		store.Set(KeyUserMessage, w.Message)
	}

	var reachable, tools []string
	for _, id := range plan.Order {
		if !plan.Reachable[id] {
			continue
		}
		reachable = append(reachable, id)
		if node, ok := w.NodeByID(id); ok && node.Category() == CategoryTool {
			tools = append(tools, id)
		}
	}
	store.Set(KeyGraphNodes, reachable)
	store.Set(KeyAvailableTools, tools)
}

// runNodes walks the plan. With maxParallel == 1 the walk is strictly
// sequential; otherwise nodes of equal depth run concurrently under a
// semaphore while observable per-edge ordering is preserved.
func (e *Executor) runNodes(ctx context.Context, w *Workflow, plan *Plan, store *ContextStore, stream *Stream, run *runState, logger *zap.Logger) error {
	if e.maxParallel <= 1 {
		for _, id := range plan.Order {
			if err := ctx.Err(); err != nil {
				return errCancelled
			}
			if err := e.processNode(ctx, w, plan, store, stream, run, id, logger); err != nil {
				return err
			}
		}
		return nil
	}
	return e.runNodesParallel(ctx, w, plan, store, stream, run, logger)
}

// processNode handles one node synchronously: input and output nodes are
// processed by the engine, agent and tool nodes go through their handler.
func (e *Executor) processNode(ctx context.Context, w *Workflow, plan *Plan, store *ContextStore, stream *Stream, run *runState, id string, logger *zap.Logger) error {
	node, ok := w.NodeByID(id)
	if !ok {
		return nil
	}
	if !plan.Reachable[id] {
		return nil // settled as EXCLUDED before Done
	}

	switch node.Category() {
	case CategoryInput:
		return e.completeDirect(ctx, stream, run, node, e.inputStep(node, w, store))

	case CategoryOutput:
		if excluded, reason := e.shouldExclude(w, node, plan, store, run); excluded {
			return e.completeExcluded(ctx, stream, run, node, reason)
		}
		return e.completeDirect(ctx, stream, run, node, e.processOutputNode(node, store, run))

	default:
		if excluded, reason := e.shouldExclude(w, node, plan, store, run); excluded {
			return e.completeExcluded(ctx, stream, run, node, reason)
		}

		if !stream.Emit(ctx, Event{Type: EventAgentStart, AgentID: id, Status: "working"}) {
			return errCancelled
		}
		run.states[id] = StateRunning

		result := e.invoke(ctx, node, store, logger)
		if result.fatal != nil {
			run.states[id] = StateError
			return result.fatal
		}
		if ctx.Err() != nil {
			// The provider call finished after cancellation; discard it.
			return errCancelled
		}

		e.applyResult(store, run, node, result)
		if !stream.Emit(ctx, Event{Type: EventAgentComplete, AgentID: id, Step: &result.step}) {
			return errCancelled
		}
		return nil
	}
}

// inputStep routes prompt and upload nodes to their handlers.
func (e *Executor) inputStep(node *Node, w *Workflow, store *ContextStore) Step {
	if node.Type == NodeUpload {
		return e.processUploadNode(node, w, store)
	}
	return e.processPromptNode(node, store)
}

// completeDirect emits the start/complete pair for an engine-processed node.
// Input and output steps are not part of the agent trace.
func (e *Executor) completeDirect(ctx context.Context, stream *Stream, run *runState, node *Node, step Step) error {
	if !stream.Emit(ctx, Event{Type: EventAgentStart, AgentID: node.ID, Status: "working"}) {
		return errCancelled
	}
	run.states[node.ID] = StateExecuted
	e.recordNode(node, StateExecuted, 0)
	if !stream.Emit(ctx, Event{Type: EventAgentComplete, AgentID: node.ID, Step: &step}) {
		return errCancelled
	}
	return nil
}

// completeExcluded settles a node as excluded and records the excluded step on
// the trace.
func (e *Executor) completeExcluded(ctx context.Context, stream *Stream, run *runState, node *Node, reason string) error {
	if !stream.Emit(ctx, Event{Type: EventAgentStart, AgentID: node.ID, Status: "excluded"}) {
		return errCancelled
	}
	run.states[node.ID] = StateExcluded
	e.recordNode(node, StateExcluded, 0)

	step := Step{
		Agent:    string(node.Type),
		Model:    "none",
		Action:   "exclude",
		Content:  reason,
		Excluded: true,
	}
	run.steps = append(run.steps, step)

	if !stream.Emit(ctx, Event{Type: EventAgentComplete, AgentID: node.ID, Step: &step}) {
		return errCancelled
	}
	return nil
}

// shouldExclude applies the exclusion policy:
//
//  1. A node whose non-input predecessors exist but none of them executed is
//     excluded (a single executed predecessor keeps join nodes alive; an
//     input predecessor never causes exclusion by itself).
//  2. A tool node downstream of an agent that published selected_tools is
//     excluded when it is not in the published set.
//  3. A sampler node is excluded once images were generated.
func (e *Executor) shouldExclude(w *Workflow, node *Node, plan *Plan, store *ContextStore, run *runState) (bool, string) {
	nonInput, executed := 0, 0
	for _, pred := range plan.Predecessors[node.ID] {
		predNode, ok := w.NodeByID(pred)
		if !ok || predNode.Category() == CategoryInput {
			continue
		}
		nonInput++
		if run.states[pred] == StateExecuted {
			executed++
		}
	}
	if nonInput > 0 && executed == 0 {
		return true, "Excluded (all upstream nodes excluded or failed)"
	}

	if node.Category() == CategoryTool {
		for _, sel := range run.selections {
			if sel.allowed[node.ID] {
				continue
			}
			if plan.Descendants(sel.publisher)[node.ID] {
				return true, "Excluded (not selected by orchestrator)"
			}
		}
	}

	if node.Type == NodeSampler {
		if images := toAnySlice(store.ToolOutputs()["images"]); len(images) > 0 {
			store.Set(KeyCandidates, []string{})
			return true, "Excluded (image generation request)"
		}
	}

	return false, ""
}

// invocation is the outcome of one handler call.
type invocation struct {
	step    Step
	updates map[string]any
	state   NodeState
	fatal   error
}

// invoke resolves the model class, calls the registered handler against a
// context snapshot, and converts failures per the agent failure contract.
func (e *Executor) invoke(ctx context.Context, node *Node, store *ContextStore, logger *zap.Logger) invocation {
	handler, class, err := e.registry.Lookup(node.Type)
	if err != nil {
		// Unknown handler for a closed-set type is a deployment defect, not a
		// workflow error; record it and continue.
		return invocation{
			state: StateError,
			step: Step{
				Agent:    string(node.Type),
				Model:    "none",
				Action:   "error",
				Metadata: map[string]any{"error": err.Error()},
			},
		}
	}

	if override, ok := node.Settings["modelClass"].(string); ok {
		switch llm.ModelClass(override) {
		case llm.ModelSmall, llm.ModelLarge:
			class = llm.ModelClass(override)
		}
	}

	req := Request{
		UserMessage: store.GetString(KeyUserMessage),
		Context:     store.Snapshot(),
		Settings:    node.Settings,
		ModelClass:  class,
	}

	started := time.Now()
	result, err := handler.Execute(ctx, req)
	elapsed := time.Since(started)

	modelLabel := e.models.Model(class)
	if result != nil {
		if label, ok := result.Metadata["model"].(string); ok && label != "" {
			modelLabel = label
		}
	}

	if err != nil {
		if types.IsFatal(err) {
			return invocation{fatal: err}
		}
		logger.Warn("agent failed recoverably",
			zap.String("node", node.ID),
			zap.String("type", string(node.Type)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return invocation{
			state: StateError,
			step: Step{
				Agent:    string(node.Type),
				Model:    modelLabel,
				Action:   "error",
				Content:  "",
				Metadata: map[string]any{"error": err.Error()},
			},
		}
	}

	step := Step{
		Agent:    string(node.Type),
		Model:    modelLabel,
		Action:   result.Action,
		Content:  result.Content,
		Metadata: result.Metadata,
	}

	if result.Err != "" {
		if step.Metadata == nil {
			step.Metadata = map[string]any{}
		}
		step.Metadata["error"] = result.Err
		step.Action = "error"
		step.Content = ""
		return invocation{state: StateError, step: step, updates: result.ContextUpdates}
	}

	logger.Debug("agent completed",
		zap.String("node", node.ID),
		zap.String("type", string(node.Type)),
		zap.Duration("elapsed", elapsed),
	)
	return invocation{state: StateExecuted, step: step, updates: result.ContextUpdates}
}

// applyResult merges an invocation into the run: context updates, state,
// trace, branch selections, and the most-recent generator content.
func (e *Executor) applyResult(store *ContextStore, run *runState, node *Node, inv invocation) {
	if inv.updates != nil {
		store.Merge(inv.updates)

		if raw, ok := inv.updates[KeySelectedTools]; ok {
			allowed := make(map[string]bool)
			for _, id := range toStringSlice(raw) {
				allowed[id] = true
			}
			run.selections = append(run.selections, selection{publisher: node.ID, allowed: allowed})
		}
	}

	state := inv.state
	if state == "" {
		state = StateExecuted
	}
	run.states[node.ID] = state
	run.steps = append(run.steps, inv.step)
	e.recordNode(node, state, 0)

	if state == StateExecuted {
		switch node.Type {
		case NodeSynthesis, NodeSampler, NodeTransformer:
			if strings.TrimSpace(inv.step.Content) != "" {
				run.lastGeneratorContent = inv.step.Content
			}
		}
	}
}

// runNodesParallel evaluates nodes level by level: a node's level is one past
// its deepest predecessor, so edges always cross levels and the per-edge event
// ordering holds. Within a level agent calls run concurrently, bounded by the
// configured parallelism; results merge in node-id order for deterministic
// traces.
func (e *Executor) runNodesParallel(ctx context.Context, w *Workflow, plan *Plan, store *ContextStore, stream *Stream, run *runState, logger *zap.Logger) error {
	levels := planLevels(plan)

	sem := semaphore.NewWeighted(int64(e.maxParallel))
	for _, level := range levels {
		if err := ctx.Err(); err != nil {
			return errCancelled
		}

		// Engine-processed and excluded nodes settle synchronously first.
		var agents []*Node
		for _, id := range level {
			node, ok := w.NodeByID(id)
			if !ok || !plan.Reachable[id] {
				continue
			}
			category := node.Category()
			if category == CategoryInput || category == CategoryOutput {
				if err := e.processNode(ctx, w, plan, store, stream, run, id, logger); err != nil {
					return err
				}
				continue
			}
			if excluded, reason := e.shouldExclude(w, node, plan, store, run); excluded {
				if err := e.completeExcluded(ctx, stream, run, node, reason); err != nil {
					return err
				}
				continue
			}
			agents = append(agents, node)
		}

		if len(agents) == 0 {
			continue
		}

		for _, node := range agents {
			if !stream.Emit(ctx, Event{Type: EventAgentStart, AgentID: node.ID, Status: "working"}) {
				return errCancelled
			}
			run.states[node.ID] = StateRunning
		}

		results := make([]invocation, len(agents))
		group, groupCtx := errgroup.WithContext(ctx)
		for i, node := range agents {
			group.Go(func() error {
				if err := sem.Acquire(groupCtx, 1); err != nil {
					return err
				}
				defer sem.Release(1)
				results[i] = e.invoke(groupCtx, node, store, logger)
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return errCancelled
		}
		if ctx.Err() != nil {
			return errCancelled
		}

		for i, node := range agents {
			if results[i].fatal != nil {
				run.states[node.ID] = StateError
				return results[i].fatal
			}
			e.applyResult(store, run, node, results[i])
			if !stream.Emit(ctx, Event{Type: EventAgentComplete, AgentID: node.ID, Step: &results[i].step}) {
				return errCancelled
			}
		}
	}
	return nil
}

// planLevels groups the topological order by longest-path depth. Node ids
// within each level are sorted.
func planLevels(plan *Plan) [][]string {
	depth := make(map[string]int, len(plan.Order))
	maxDepth := 0
	for _, id := range plan.Order {
		d := 0
		for _, pred := range plan.Predecessors[id] {
			if depth[pred]+1 > d {
				d = depth[pred] + 1
			}
		}
		depth[id] = d
		if d > maxDepth {
			maxDepth = d
		}
	}

	levels := make([][]string, maxDepth+1)
	for _, id := range plan.Order {
		levels[depth[id]] = append(levels[depth[id]], id)
	}
	for _, level := range levels {
		sort.Strings(level)
	}
	return levels
}

// emitDone assembles and emits the terminal done event.
func (e *Executor) emitDone(ctx context.Context, store *ContextStore, stream *Stream, run *runState, logger *zap.Logger) {
	outputs := store.ToolOutputs()

	images := toAnySlice(outputs["images"])
	doneImages := make([]any, 0, len(images))
	for _, raw := range images {
		if img, ok := raw.(map[string]any); ok {
			url, _ := img["url"].(string)
			doneImages = append(doneImages, map[string]any{
				"prompt":   img["prompt"],
				"style":    img["style"],
				"url":      url,
				"has_data": url != "",
			})
		}
	}

	toolOutputs := map[string]any{
		"images":       doneImages,
		"calculations": toAnySlice(outputs["calculations"]),
		"web_results":  toAnySlice(outputs["web_results"]),
	}
	if docs, ok := store.Get(KeyDocs); ok {
		toolOutputs["docs"] = toAnySlice(docs)
	}

	outputFormat := run.outputFormat
	if outputFormat == "" {
		outputFormat = FormatText
	}

	latency := float64(time.Since(run.start).Microseconds()) / 1000.0

	payload := &DonePayload{
		Answer:       run.answer,
		ToolOutputs:  toolOutputs,
		Trace:        Trace{Steps: run.steps},
		LatencyMS:    latency,
		OutputFormat: outputFormat,
	}

	logger.Info("run completed",
		zap.Int("steps", len(run.steps)),
		zap.Float64("latency_ms", latency),
		zap.String("output_format", outputFormat),
	)
	stream.Emit(ctx, Event{Type: EventDone, Done: payload})
}

func (e *Executor) recordNode(node *Node, state NodeState, seconds float64) {
	if e.metrics != nil {
		e.metrics.NodeProcessed(string(node.Type), string(state), seconds)
	}
}
