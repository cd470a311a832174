package workflow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/llm"
	"github.com/BaSui01/graphflow/types"
)

// stubResolver labels steps without a real gateway.
type stubResolver struct{}

func (stubResolver) Model(class llm.ModelClass) string {
	if class == llm.ModelLarge {
		return "large-model"
	}
	return "small-model"
}

func (stubResolver) Provider() string { return "stub" }

// runWorkflow executes w against the given registry and returns the emitted
// event sequence.
func runWorkflow(t *testing.T, ctx context.Context, registry *Registry, w *Workflow, opts ...ExecutorOption) []Event {
	t.Helper()

	plan, err := BuildPlan(w)
	require.NoError(t, err)

	executor := NewExecutor(registry, stubResolver{}, zap.NewNop(), opts...)
	stream := NewStream(DefaultEventBuffer)
	store := NewContextStore()

	done := make(chan struct{})
	var events []Event
	go func() {
		defer close(done)
		for event := range stream.Events() {
			events = append(events, event)
		}
	}()

	executor.Execute(ctx, w, plan, store, stream)
	<-done
	return events
}

func simpleHandler(action string, updates map[string]any) Handler {
	return HandlerFunc(func(ctx context.Context, req Request) (*Result, error) {
		return &Result{Action: action, Content: action + " output", ContextUpdates: updates}, nil
	})
}

func eventsOfType(events []Event, eventType EventType) []Event {
	var result []Event
	for _, e := range events {
		if e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

func findDone(t *testing.T, events []Event) *DonePayload {
	t.Helper()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, EventDone, last.Type, "terminal event must be done")
	require.NotNil(t, last.Done)
	return last.Done
}

// assertEventInvariants checks the ordering guarantees: one start per
// complete, start before complete per node, and a single terminal event.
func assertEventInvariants(t *testing.T, events []Event, w *Workflow) {
	t.Helper()

	starts := map[string]int{}
	completes := map[string]int{}
	for i, event := range events {
		switch event.Type {
		case EventAgentStart:
			starts[event.AgentID]++
		case EventAgentComplete:
			completes[event.AgentID]++
			assert.GreaterOrEqual(t, starts[event.AgentID], completes[event.AgentID],
				"complete before start for %s at index %d", event.AgentID, i)
		case EventDone, EventError:
			assert.Equal(t, len(events)-1, i, "terminal event must be last")
		}
	}
	assert.Equal(t, starts, completes, "multiset of starts equals multiset of completes")

	// Per-edge ordering: every event of u precedes v's start.
	lastEvent := map[string]int{}
	firstStart := map[string]int{}
	for i, event := range events {
		if event.AgentID == "" {
			continue
		}
		lastEvent[event.AgentID] = i
		if event.Type == EventAgentStart {
			if _, seen := firstStart[event.AgentID]; !seen {
				firstStart[event.AgentID] = i
			}
		}
	}
	for _, e := range w.Edges {
		uLast, uOK := lastEvent[e.Source]
		vStart, vOK := firstStart[e.Target]
		if uOK && vOK {
			assert.Less(t, uLast, vStart, "events of %s must precede start of %s", e.Source, e.Target)
		}
	}
}

func TestExecute_PassThroughPrompt(t *testing.T) {
	w := &Workflow{
		Nodes: []Node{
			{ID: "p1", Type: NodePrompt, PromptText: "Hello"},
			{ID: "r1", Type: NodeResponse},
		},
		Edges: []Edge{edge("p1", "r1")},
	}

	events := runWorkflow(t, context.Background(), NewRegistry(zap.NewNop()), w)

	done := findDone(t, events)
	assert.Equal(t, "Hello", done.Answer)
	assert.Empty(t, done.Trace.Steps, "no non-input steps in the trace")
	assert.Equal(t, FormatText, done.OutputFormat)
	assertEventInvariants(t, events, w)
}

func TestExecute_EmptyGraph(t *testing.T) {
	events := runWorkflow(t, context.Background(), NewRegistry(zap.NewNop()), &Workflow{Message: "hi"})

	require.Len(t, events, 1)
	done := findDone(t, events)
	assert.Empty(t, done.Answer)
	assert.Empty(t, done.Trace.Steps)
}

func TestExecute_RetrieveThenSynthesise(t *testing.T) {
	registry := NewRegistry(zap.NewNop())
	registry.Register(NodeSemanticSearch, simpleHandler("search", map[string]any{
		KeySemanticResults: []any{
			map[string]any{"title": "HACCP Guide", "snippet": "hazard analysis"},
			map[string]any{"title": "Controls", "snippet": "critical control points"},
		},
		KeyContextSnippets: []string{"[HACCP Guide] hazard analysis"},
	}), llm.ModelSmall)
	registry.Register(NodeSynthesis, HandlerFunc(func(ctx context.Context, req Request) (*Result, error) {
		results, _ := req.Context[KeySemanticResults].([]any)
		require.NotEmpty(t, results, "synthesis sees semantic_results")
		return &Result{
			Action:         "synthesize",
			Content:        "HACCP is a preventive food-safety system.",
			ContextUpdates: map[string]any{KeyFinalAnswer: "HACCP is a preventive food-safety system."},
		}, nil
	}), llm.ModelLarge)

	w := &Workflow{
		Nodes: []Node{
			{ID: "p1", Type: NodePrompt, PromptText: "What is HACCP?"},
			{ID: "s1", Type: NodeSemanticSearch, Settings: map[string]any{"topK": 3}},
			{ID: "y1", Type: NodeSynthesis, Settings: map[string]any{"maxWords": 100}},
			{ID: "r1", Type: NodeResponse},
		},
		Edges: []Edge{edge("p1", "s1"), edge("s1", "y1"), edge("y1", "r1")},
	}

	events := runWorkflow(t, context.Background(), registry, w)

	done := findDone(t, events)
	assert.Equal(t, "HACCP is a preventive food-safety system.", done.Answer)
	require.Len(t, done.Trace.Steps, 2)
	assert.Equal(t, "search", done.Trace.Steps[0].Action)
	assert.Equal(t, "synthesize", done.Trace.Steps[1].Action)
	assert.Equal(t, "large-model", done.Trace.Steps[1].Model)
	assertEventInvariants(t, events, w)
}

func TestExecute_OrchestratorBranchRouting(t *testing.T) {
	var imageCalls atomic.Int32

	registry := NewRegistry(zap.NewNop())
	registry.Register(NodeOrchestrator, simpleHandler("orchestrate", map[string]any{
		KeySelectedTools: []string{"s1"},
	}), llm.ModelSmall)
	registry.Register(NodeSemanticSearch, simpleHandler("search", map[string]any{
		KeySemanticResults: []any{map[string]any{"title": "Doc"}},
	}), llm.ModelSmall)
	registry.Register(NodeImageGenerator, HandlerFunc(func(ctx context.Context, req Request) (*Result, error) {
		imageCalls.Add(1)
		return &Result{Action: "generate_image"}, nil
	}), llm.ModelSmall)
	registry.Register(NodeSynthesis, HandlerFunc(func(ctx context.Context, req Request) (*Result, error) {
		results, _ := req.Context[KeySemanticResults].([]any)
		require.NotEmpty(t, results, "synthesis references semantic_results")
		return &Result{
			Action:         "synthesize",
			Content:        "answer",
			ContextUpdates: map[string]any{KeyFinalAnswer: "answer"},
		}, nil
	}), llm.ModelLarge)

	w := &Workflow{
		Nodes: []Node{
			{ID: "p1", Type: NodePrompt, PromptText: "question"},
			{ID: "o1", Type: NodeOrchestrator},
			{ID: "s1", Type: NodeSemanticSearch},
			{ID: "i1", Type: NodeImageGenerator},
			{ID: "y1", Type: NodeSynthesis},
			{ID: "r1", Type: NodeResponse},
		},
		Edges: []Edge{
			edge("p1", "o1"),
			edge("o1", "s1"), edge("o1", "i1"),
			edge("s1", "y1"), edge("i1", "y1"),
			edge("y1", "r1"),
		},
	}

	events := runWorkflow(t, context.Background(), registry, w)

	assert.Zero(t, imageCalls.Load(), "unselected tool never invoked")

	done := findDone(t, events)
	assert.Equal(t, "answer", done.Answer)

	var excludedStep *Step
	for i := range done.Trace.Steps {
		if done.Trace.Steps[i].Excluded {
			excludedStep = &done.Trace.Steps[i]
		}
	}
	require.NotNil(t, excludedStep, "excluded tool recorded on the trace")
	assert.Equal(t, string(NodeImageGenerator), excludedStep.Agent)
	assert.True(t, excludedStep.Excluded)

	assertEventInvariants(t, events, w)
}

func TestExecute_OrchestratorSelectsNoTools(t *testing.T) {
	registry := NewRegistry(zap.NewNop())
	registry.Register(NodeOrchestrator, simpleHandler("orchestrate", map[string]any{
		KeySelectedTools: []string{},
	}), llm.ModelSmall)
	registry.Register(NodeSemanticSearch, simpleHandler("search", nil), llm.ModelSmall)
	registry.Register(NodeImageGenerator, simpleHandler("generate_image", nil), llm.ModelSmall)
	registry.Register(NodeSynthesis, simpleHandler("synthesize", map[string]any{
		KeyFinalAnswer: "still answered",
	}), llm.ModelLarge)

	w := &Workflow{
		Nodes: []Node{
			{ID: "p1", Type: NodePrompt, PromptText: "question"},
			{ID: "o1", Type: NodeOrchestrator},
			{ID: "s1", Type: NodeSemanticSearch},
			{ID: "i1", Type: NodeImageGenerator},
			{ID: "y1", Type: NodeSynthesis},
			{ID: "r1", Type: NodeResponse},
		},
		Edges: []Edge{
			edge("p1", "o1"),
			edge("o1", "s1"), edge("o1", "i1"),
			edge("s1", "y1"), edge("i1", "y1"),
			edge("o1", "y1"),
			edge("y1", "r1"),
		},
	}

	events := runWorkflow(t, context.Background(), registry, w)

	done := findDone(t, events)
	assert.Equal(t, "still answered", done.Answer, "remaining path still executes")

	excluded := 0
	for _, step := range done.Trace.Steps {
		if step.Excluded {
			excluded++
		}
	}
	assert.Equal(t, 2, excluded, "all tool successors excluded")
	assertEventInvariants(t, events, w)
}

func TestExecute_RecoverableErrorContinues(t *testing.T) {
	registry := NewRegistry(zap.NewNop())
	registry.Register(NodeSemanticSearch, HandlerFunc(func(ctx context.Context, req Request) (*Result, error) {
		return nil, types.NewError(types.ErrUpstreamError, "provider unavailable").WithRetryable(true)
	}), llm.ModelSmall)
	registry.Register(NodeSummarization, simpleHandler("summarize", nil), llm.ModelSmall)
	registry.Register(NodeSynthesis, simpleHandler("synthesize", map[string]any{
		KeyFinalAnswer: "made do without retrieval",
	}), llm.ModelLarge)

	// y1 joins a failed branch (s1) and a healthy branch (t1); the executed
	// predecessor keeps the join alive.
	w := &Workflow{
		Nodes: []Node{
			{ID: "p1", Type: NodePrompt, PromptText: "q"},
			{ID: "s1", Type: NodeSemanticSearch},
			{ID: "t1", Type: NodeSummarization},
			{ID: "y1", Type: NodeSynthesis},
			{ID: "r1", Type: NodeResponse},
		},
		Edges: []Edge{
			edge("p1", "s1"), edge("p1", "t1"),
			edge("s1", "y1"), edge("t1", "y1"),
			edge("y1", "r1"),
		},
	}

	events := runWorkflow(t, context.Background(), registry, w)

	done := findDone(t, events)
	require.Len(t, done.Trace.Steps, 3)
	assert.Equal(t, "error", done.Trace.Steps[0].Action)
	assert.Empty(t, done.Trace.Steps[0].Content, "recoverable error yields empty content")
	assert.Contains(t, done.Trace.Steps[0].Metadata["error"], "provider unavailable")
	assert.Equal(t, "made do without retrieval", done.Answer)
}

func TestExecute_DownstreamOfFailureExcluded(t *testing.T) {
	registry := NewRegistry(zap.NewNop())
	registry.Register(NodeSemanticSearch, HandlerFunc(func(ctx context.Context, req Request) (*Result, error) {
		return nil, errors.New("boom")
	}), llm.ModelSmall)
	registry.Register(NodeSynthesis, simpleHandler("synthesize", nil), llm.ModelLarge)

	w := &Workflow{
		Nodes: []Node{
			{ID: "p1", Type: NodePrompt, PromptText: "q"},
			{ID: "s1", Type: NodeSemanticSearch},
			{ID: "y1", Type: NodeSynthesis},
		},
		Edges: []Edge{edge("p1", "s1"), edge("s1", "y1")},
	}

	events := runWorkflow(t, context.Background(), registry, w)

	done := findDone(t, events)
	require.Len(t, done.Trace.Steps, 2)
	assert.Equal(t, "error", done.Trace.Steps[0].Action)
	assert.True(t, done.Trace.Steps[1].Excluded,
		"node with only a failed predecessor is excluded")
}

func TestExecute_FatalErrorTerminatesRun(t *testing.T) {
	registry := NewRegistry(zap.NewNop())
	registry.Register(NodeSynthesis, HandlerFunc(func(ctx context.Context, req Request) (*Result, error) {
		return nil, types.NewError(types.ErrAgentFatal, "context key type mismatch")
	}), llm.ModelLarge)

	w := &Workflow{
		Nodes: []Node{
			{ID: "p1", Type: NodePrompt, PromptText: "q"},
			{ID: "y1", Type: NodeSynthesis},
			{ID: "r1", Type: NodeResponse},
		},
		Edges: []Edge{edge("p1", "y1"), edge("y1", "r1")},
	}

	events := runWorkflow(t, context.Background(), registry, w)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventError, last.Type)
	assert.Contains(t, last.Message, "context key type mismatch")
	assert.Empty(t, eventsOfType(events, EventDone))
}

func TestExecute_UnreachableNodesSilentlyExcluded(t *testing.T) {
	registry := NewRegistry(zap.NewNop())
	registry.Register(NodeSynthesis, simpleHandler("synthesize", nil), llm.ModelLarge)

	w := &Workflow{
		Nodes: []Node{
			{ID: "p1", Type: NodePrompt, PromptText: "q"},
			{ID: "r1", Type: NodeResponse},
			{ID: "island", Type: NodeSynthesis},
		},
		Edges: []Edge{edge("p1", "r1")},
	}

	events := runWorkflow(t, context.Background(), registry, w)

	for _, event := range events {
		assert.NotEqual(t, "island", event.AgentID, "no events for unreachable nodes")
	}
	findDone(t, events)
}

func TestExecute_SamplerSkippedAfterImageGeneration(t *testing.T) {
	registry := NewRegistry(zap.NewNop())
	registry.Register(NodeImageGenerator, simpleHandler("generate_image", map[string]any{
		"images": []any{map[string]any{"prompt": "a diagram", "url": "data:image/png;base64,xyz"}},
	}), llm.ModelSmall)
	registry.Register(NodeSampler, simpleHandler("sample", nil), llm.ModelSmall)

	w := &Workflow{
		Nodes: []Node{
			{ID: "p1", Type: NodePrompt, PromptText: "draw it"},
			{ID: "i1", Type: NodeImageGenerator},
			{ID: "k1", Type: NodeSampler},
			{ID: "r1", Type: NodeResponse},
		},
		Edges: []Edge{edge("p1", "i1"), edge("i1", "k1"), edge("k1", "r1")},
	}

	events := runWorkflow(t, context.Background(), registry, w)

	done := findDone(t, events)
	var samplerStep *Step
	for i := range done.Trace.Steps {
		if done.Trace.Steps[i].Agent == string(NodeSampler) {
			samplerStep = &done.Trace.Steps[i]
		}
	}
	require.NotNil(t, samplerStep)
	assert.True(t, samplerStep.Excluded)
	assert.Contains(t, samplerStep.Content, "image generation")

	require.Len(t, done.ToolOutputs["images"].([]any), 1)
	image := done.ToolOutputs["images"].([]any)[0].(map[string]any)
	assert.Equal(t, true, image["has_data"])
}

func TestExecute_CancellationStopsEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	registry := NewRegistry(zap.NewNop())
	registry.Register(NodeSynthesis, HandlerFunc(func(ctx context.Context, req Request) (*Result, error) {
		// The consumer disconnects while this agent is in flight; its result
		// must be discarded.
		cancel()
		return &Result{Action: "synthesize", Content: "late result"}, nil
	}), llm.ModelLarge)

	w := &Workflow{
		Nodes: []Node{
			{ID: "p1", Type: NodePrompt, PromptText: "q"},
			{ID: "y1", Type: NodeSynthesis},
			{ID: "r1", Type: NodeResponse},
		},
		Edges: []Edge{edge("p1", "y1"), edge("y1", "r1")},
	}

	events := runWorkflow(t, ctx, registry, w)

	for _, event := range events {
		assert.NotEqual(t, EventDone, event.Type, "no done after cancellation")
		assert.NotEqual(t, EventError, event.Type, "no error event after cancellation")
		if event.Type == EventAgentComplete {
			assert.NotEqual(t, "y1", event.AgentID, "in-flight result discarded")
		}
		assert.NotEqual(t, "r1", event.AgentID, "no events for successors after cancellation")
	}
}

func TestExecute_Timeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	registry := NewRegistry(zap.NewNop())
	registry.Register(NodeSynthesis, HandlerFunc(func(ctx context.Context, req Request) (*Result, error) {
		<-ctx.Done()
		return &Result{Action: "synthesize", Content: "too late"}, nil
	}), llm.ModelLarge)

	w := &Workflow{
		Nodes: []Node{
			{ID: "p1", Type: NodePrompt, PromptText: "q"},
			{ID: "y1", Type: NodeSynthesis},
		},
		Edges: []Edge{edge("p1", "y1")},
	}

	events := runWorkflow(t, ctx, registry, w)
	assert.Empty(t, eventsOfType(events, EventDone))
	assert.Empty(t, eventsOfType(events, EventError))
}

func TestExecute_DeterministicTrace(t *testing.T) {
	build := func() (*Registry, *Workflow) {
		registry := NewRegistry(zap.NewNop())
		registry.Register(NodeSemanticSearch, simpleHandler("search", map[string]any{
			KeyContextSnippets: []string{"snippet"},
		}), llm.ModelSmall)
		registry.Register(NodeSynthesis, simpleHandler("synthesize", map[string]any{
			KeyFinalAnswer: "deterministic answer",
		}), llm.ModelLarge)

		return registry, &Workflow{
			Nodes: []Node{
				{ID: "p1", Type: NodePrompt, PromptText: "q"},
				{ID: "s1", Type: NodeSemanticSearch},
				{ID: "y1", Type: NodeSynthesis},
				{ID: "r1", Type: NodeResponse},
			},
			Edges: []Edge{edge("p1", "s1"), edge("s1", "y1"), edge("y1", "r1")},
		}
	}

	registry1, w1 := build()
	first := findDone(t, runWorkflow(t, context.Background(), registry1, w1))
	registry2, w2 := build()
	second := findDone(t, runWorkflow(t, context.Background(), registry2, w2))

	require.Equal(t, len(first.Trace.Steps), len(second.Trace.Steps))
	for i := range first.Trace.Steps {
		assert.Equal(t, first.Trace.Steps[i].Content, second.Trace.Steps[i].Content)
		assert.Equal(t, first.Trace.Steps[i].Action, second.Trace.Steps[i].Action)
	}
	assert.Equal(t, first.Answer, second.Answer)
}

func TestExecute_ParallelBranchesKeepOrderingGuarantees(t *testing.T) {
	registry := NewRegistry(zap.NewNop())
	registry.Register(NodeSummarization, simpleHandler("summarize", nil), llm.ModelSmall)
	registry.Register(NodeTranslator, simpleHandler("translate", nil), llm.ModelSmall)
	registry.Register(NodeSynthesis, simpleHandler("synthesize", map[string]any{
		KeyFinalAnswer: "joined",
	}), llm.ModelLarge)

	w := &Workflow{
		Nodes: []Node{
			{ID: "p1", Type: NodePrompt, PromptText: "q"},
			{ID: "a1", Type: NodeSummarization},
			{ID: "b1", Type: NodeTranslator},
			{ID: "y1", Type: NodeSynthesis},
			{ID: "r1", Type: NodeResponse},
		},
		Edges: []Edge{
			edge("p1", "a1"), edge("p1", "b1"),
			edge("a1", "y1"), edge("b1", "y1"),
			edge("y1", "r1"),
		},
	}

	events := runWorkflow(t, context.Background(), registry, w, WithMaxParallel(4))

	done := findDone(t, events)
	assert.Equal(t, "joined", done.Answer)
	assertEventInvariants(t, events, w)
}
