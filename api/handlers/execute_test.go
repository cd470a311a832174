package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/llm"
	"github.com/BaSui01/graphflow/workflow"
)

type testResolver struct{}

func (testResolver) Model(class llm.ModelClass) string { return "stub-model" }
func (testResolver) Provider() string                  { return "stub" }

type sseEvent struct {
	name string
	data map[string]any
}

// parseSSE splits a text/event-stream body into events.
func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	var current sseEvent
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &current.data))
		case line == "":
			if current.name != "" {
				events = append(events, current)
				current = sseEvent{}
			}
		}
	}
	return events
}

func newExecuteHandler(t *testing.T, registry *workflow.Registry) *ExecuteHandler {
	t.Helper()
	executor := workflow.NewExecutor(registry, testResolver{}, zap.NewNop())
	return NewExecuteHandler(executor, nil, 5*time.Second, workflow.DefaultEventBuffer, zap.NewNop())
}

func postExecute(t *testing.T, handler *ExecuteHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/workflow/execute", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	handler.HandleExecute(recorder, req)
	return recorder
}

func TestHandleExecute_StreamsEvents(t *testing.T) {
	registry := workflow.NewRegistry(zap.NewNop())
	registry.Register(workflow.NodeSynthesis, workflow.HandlerFunc(
		func(ctx context.Context, req workflow.Request) (*workflow.Result, error) {
			return &workflow.Result{
				Action:         "synthesize",
				Content:        "streamed answer",
				ContextUpdates: map[string]any{workflow.KeyFinalAnswer: "streamed answer"},
			}, nil
		}), llm.ModelLarge)

	body := `{
		"message": "question",
		"workflow_nodes": [
			{"id": "p1", "data": {"nodeType": "prompt", "promptText": "question"}},
			{"id": "y1", "data": {"nodeType": "synthesis"}},
			{"id": "r1", "data": {"nodeType": "response"}}
		],
		"workflow_edges": [
			{"id": "e1", "source": "p1", "target": "y1"},
			{"id": "e2", "source": "y1", "target": "r1"}
		]
	}`

	recorder := postExecute(t, newExecuteHandler(t, registry), body)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "text/event-stream", recorder.Header().Get("Content-Type"))

	events := parseSSE(t, recorder.Body.String())
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	assert.Equal(t, "done", last.name)
	assert.Equal(t, "streamed answer", last.data["answer"])
	assert.Equal(t, "text", last.data["output_format"])

	var starts, completes int
	for _, event := range events {
		switch event.name {
		case "agent_start":
			starts++
			assert.NotEmpty(t, event.data["agent"])
		case "agent_complete":
			completes++
			assert.Contains(t, event.data, "step")
		}
	}
	assert.Equal(t, starts, completes)
}

func TestHandleExecute_CycleIsPreStream400(t *testing.T) {
	body := `{
		"message": "q",
		"workflow_nodes": [
			{"id": "a", "data": {"nodeType": "synthesis"}},
			{"id": "b", "data": {"nodeType": "summarization"}}
		],
		"workflow_edges": [
			{"source": "a", "target": "b"},
			{"source": "b", "target": "a"}
		]
	}`

	recorder := postExecute(t, newExecuteHandler(t, workflow.NewRegistry(zap.NewNop())), body)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "application/json", recorder.Header().Get("Content-Type"))

	var response ErrorResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, string("VALIDATION"), response.Error.Code)
	assert.Contains(t, response.Error.Message, "Cycle")
}

func TestHandleExecute_MalformedBody(t *testing.T) {
	recorder := postExecute(t, newExecuteHandler(t, workflow.NewRegistry(zap.NewNop())), "{not json")
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestHandleExecute_MethodNotAllowed(t *testing.T) {
	handler := newExecuteHandler(t, workflow.NewRegistry(zap.NewNop()))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/workflow/execute", nil)
	recorder := httptest.NewRecorder()
	handler.HandleExecute(recorder, req)
	assert.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
}

func TestHandleExecute_NodeTypeFromIDPrefix(t *testing.T) {
	body := `{
		"message": "Hello",
		"workflow_nodes": [
			{"id": "prompt-1", "data": {"promptText": "Hello"}},
			{"id": "response-1", "data": {}}
		],
		"workflow_edges": [{"source": "prompt-1", "target": "response-1"}]
	}`

	recorder := postExecute(t, newExecuteHandler(t, workflow.NewRegistry(zap.NewNop())), body)
	require.Equal(t, http.StatusOK, recorder.Code)

	events := parseSSE(t, recorder.Body.String())
	last := events[len(events)-1]
	assert.Equal(t, "done", last.name)
	assert.Equal(t, "Hello", last.data["answer"])
}

func TestHandleExecute_ExcludedStepOnWire(t *testing.T) {
	registry := workflow.NewRegistry(zap.NewNop())
	registry.Register(workflow.NodeOrchestrator, workflow.HandlerFunc(
		func(ctx context.Context, req workflow.Request) (*workflow.Result, error) {
			return &workflow.Result{
				Action:         "orchestrate",
				Content:        "no tools",
				ContextUpdates: map[string]any{workflow.KeySelectedTools: []string{}},
			}, nil
		}), llm.ModelSmall)
	registry.Register(workflow.NodeImageGenerator, workflow.HandlerFunc(
		func(ctx context.Context, req workflow.Request) (*workflow.Result, error) {
			t.Fatal("excluded tool must not run")
			return nil, nil
		}), llm.ModelSmall)

	body := `{
		"message": "q",
		"workflow_nodes": [
			{"id": "p1", "data": {"nodeType": "prompt", "promptText": "q"}},
			{"id": "o1", "data": {"nodeType": "orchestrator"}},
			{"id": "i1", "data": {"nodeType": "image_generator"}},
			{"id": "r1", "data": {"nodeType": "response"}}
		],
		"workflow_edges": [
			{"source": "p1", "target": "o1"},
			{"source": "o1", "target": "i1"},
			{"source": "o1", "target": "r1"}
		]
	}`

	recorder := postExecute(t, newExecuteHandler(t, registry), body)
	require.Equal(t, http.StatusOK, recorder.Code)

	events := parseSSE(t, recorder.Body.String())
	var excludedSeen bool
	for _, event := range events {
		if event.name != "agent_complete" || event.data["agent"] != "i1" {
			continue
		}
		step := event.data["step"].(map[string]any)
		assert.Equal(t, true, step["excluded"])
		excludedSeen = true
	}
	assert.True(t, excludedSeen, "excluded step surfaced on the stream")
}
