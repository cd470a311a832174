package handlers

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/api"
	"github.com/BaSui01/graphflow/workflow"
)

// HandleExecuteWS runs one workflow over a WebSocket connection: the client
// sends a single execute request, the server streams the same event payloads
// the SSE endpoint produces, then closes.
func (h *ExecuteHandler) HandleExecuteWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected close")

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req api.ExecuteRequest
	if err := wsjson.Read(ctx, conn, &req); err != nil {
		conn.Close(websocket.StatusInvalidFramePayloadData, "malformed request")
		return
	}

	wf := req.ToWorkflow()
	plan, err := workflow.BuildPlan(wf)
	if err != nil {
		_ = wsjson.Write(ctx, conn, map[string]any{
			"type": string(workflow.EventError),
			"data": map[string]any{"message": err.Error()},
		})
		conn.Close(websocket.StatusNormalClosure, "validation failed")
		return
	}

	if req.KnowledgeBase != "" && h.retriever != nil {
		if err := h.retriever.SetActive(req.KnowledgeBase); err != nil {
			_ = wsjson.Write(ctx, conn, map[string]any{
				"type": string(workflow.EventError),
				"data": map[string]any{"message": err.Error()},
			})
			conn.Close(websocket.StatusNormalClosure, "unknown knowledge base")
			return
		}
	}

	stream := workflow.NewStream(h.eventBuffer)
	store := workflow.NewContextStore()

	go h.executor.Execute(ctx, wf, plan, store, stream)

	for event := range stream.Events() {
		message := map[string]any{
			"type": string(event.Type),
			"data": eventPayload(event),
		}
		if err := wsjson.Write(ctx, conn, message); err != nil {
			h.logger.Debug("websocket client disconnected", zap.Error(err))
			cancel()
			for range stream.Events() {
			}
			return
		}
	}

	conn.Close(websocket.StatusNormalClosure, "run complete")
}
