package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/api"
	"github.com/BaSui01/graphflow/types"
	"github.com/BaSui01/graphflow/workflow"
)

// CorpusSwitcher selects the active knowledge base for a run.
type CorpusSwitcher interface {
	SetActive(corpus string) error
}

// ExecuteHandler runs workflows and streams progress as Server-Sent Events.
type ExecuteHandler struct {
	executor    *workflow.Executor
	registry    *workflow.Registry
	retriever   CorpusSwitcher
	timeout     time.Duration
	eventBuffer int
	logger      *zap.Logger
}

// NewExecuteHandler creates the execution handler. retriever may be nil when
// no corpus is configured.
func NewExecuteHandler(executor *workflow.Executor, retriever CorpusSwitcher, timeout time.Duration, eventBuffer int, logger *zap.Logger) *ExecuteHandler {
	if timeout == 0 {
		timeout = 300 * time.Second
	}
	return &ExecuteHandler{
		executor:    executor,
		retriever:   retriever,
		timeout:     timeout,
		eventBuffer: eventBuffer,
		logger:      logger.With(zap.String("handler", "execute")),
	}
}

// HandleExecute accepts one execution request and streams its events. Graph
// validation failures return a non-streaming 400; errors after the stream
// opens surface as error events.
func (h *ExecuteHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req api.ExecuteRequest
	if !DecodeJSONBody(w, r, &req, h.logger) {
		return
	}

	wf, plan, ok := h.prepare(w, &req)
	if !ok {
		return
	}

	flusher, okFlush := w.(http.Flusher)
	if !okFlush {
		WriteError(w, types.NewError(types.ErrInternalError, "streaming not supported"), h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	stream := workflow.NewStream(h.eventBuffer)
	store := workflow.NewContextStore()

	go h.executor.Execute(ctx, wf, plan, store, stream)

	for event := range stream.Events() {
		if err := writeSSE(w, event); err != nil {
			// Client went away; cancellation reaches the engine via ctx.
			h.logger.Debug("client disconnected", zap.Error(err))
			cancel()
			for range stream.Events() {
				// Drain so the producer can finish.
			}
			return
		}
		flusher.Flush()
	}
}

// prepare converts and validates the request, handling the pre-stream error
// path. It also switches the active knowledge base when one is named.
func (h *ExecuteHandler) prepare(w http.ResponseWriter, req *api.ExecuteRequest) (*workflow.Workflow, *workflow.Plan, bool) {
	wf := req.ToWorkflow()

	plan, err := workflow.BuildPlan(wf)
	if err != nil {
		WriteError(w, err, h.logger)
		return nil, nil, false
	}
	for _, warning := range plan.Warnings {
		h.logger.Warn("plan warning", zap.String("warning", warning))
	}

	if req.KnowledgeBase != "" && h.retriever != nil {
		if err := h.retriever.SetActive(req.KnowledgeBase); err != nil {
			WriteError(w, err, h.logger)
			return nil, nil, false
		}
	}

	return wf, plan, true
}

// writeSSE renders one event in text/event-stream framing.
func writeSSE(w http.ResponseWriter, event workflow.Event) error {
	payload, err := json.Marshal(eventPayload(event))
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("event: " + string(event.Type) + "\n")); err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}

// eventPayload shapes the event data for the wire. Step metadata is flattened
// into the step object.
func eventPayload(event workflow.Event) map[string]any {
	switch event.Type {
	case workflow.EventAgentStart:
		return map[string]any{"agent": event.AgentID, "status": event.Status}

	case workflow.EventAgentComplete:
		return map[string]any{"agent": event.AgentID, "step": stepPayload(event.Step)}

	case workflow.EventDone:
		done := event.Done
		steps := make([]map[string]any, len(done.Trace.Steps))
		for i := range done.Trace.Steps {
			steps[i] = stepPayload(&done.Trace.Steps[i])
		}
		return map[string]any{
			"answer":        done.Answer,
			"tool_outputs":  done.ToolOutputs,
			"trace":         map[string]any{"steps": steps},
			"latency_ms":    done.LatencyMS,
			"output_format": done.OutputFormat,
		}

	default: // error
		return map[string]any{"message": event.Message}
	}
}

// stepPayload flattens a step and its metadata into one JSON object.
func stepPayload(step *workflow.Step) map[string]any {
	if step == nil {
		return nil
	}
	payload := map[string]any{
		"agent":   step.Agent,
		"model":   step.Model,
		"action":  step.Action,
		"content": step.Content,
	}
	if step.Excluded {
		payload["excluded"] = true
	}
	for k, v := range step.Metadata {
		if _, reserved := payload[k]; !reserved {
			payload[k] = v
		}
	}
	return payload
}
