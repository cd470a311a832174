// Package api defines the wire types of the execution endpoint and their
// conversion to the engine's workflow model.
package api

import (
	"strings"

	"github.com/BaSui01/graphflow/workflow"
)

// ExecuteRequest is the body of POST /api/v1/workflow/execute.
type ExecuteRequest struct {
	Message       string         `json:"message"`
	WorkflowNodes []WorkflowNode `json:"workflow_nodes"`
	WorkflowEdges []WorkflowEdge `json:"workflow_edges,omitempty"`
	KnowledgeBase string         `json:"knowledge_base,omitempty"`
}

// WorkflowNode mirrors the editor's node shape. Position is accepted and
// ignored; layout has no execution meaning.
type WorkflowNode struct {
	ID       string         `json:"id"`
	Type     string         `json:"type,omitempty"`
	Position map[string]any `json:"position,omitempty"`
	Data     NodeData       `json:"data"`
}

// NodeData carries the node's type, label, settings, and input payloads.
type NodeData struct {
	NodeType          string             `json:"nodeType,omitempty"`
	Label             string             `json:"label,omitempty"`
	Settings          map[string]any     `json:"settings,omitempty"`
	PromptText        string             `json:"promptText,omitempty"`
	UploadedFiles     []UploadedFileData `json:"uploadedFiles,omitempty"`
	UploadInstruction string             `json:"uploadInstruction,omitempty"`
}

// UploadedFileData is one attached file.
type UploadedFileData struct {
	Name    string `json:"name"`
	Size    int    `json:"size"`
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// WorkflowEdge is one directed connection.
type WorkflowEdge struct {
	ID     string `json:"id,omitempty"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// ToWorkflow converts the wire request into the engine model. The node type
// comes from data.nodeType, falling back to the id prefix before the first
// dash (the editor's naming convention).
func (r *ExecuteRequest) ToWorkflow() *workflow.Workflow {
	w := &workflow.Workflow{
		Message:       r.Message,
		KnowledgeBase: r.KnowledgeBase,
	}

	for _, wireNode := range r.WorkflowNodes {
		nodeType := wireNode.Data.NodeType
		if nodeType == "" {
			nodeType = wireNode.ID
			if i := strings.Index(nodeType, "-"); i > 0 {
				nodeType = nodeType[:i]
			}
		}

		node := workflow.Node{
			ID:                wireNode.ID,
			Type:              workflow.NodeType(nodeType),
			Label:             wireNode.Data.Label,
			Settings:          wireNode.Data.Settings,
			PromptText:        wireNode.Data.PromptText,
			UploadInstruction: wireNode.Data.UploadInstruction,
		}
		for _, f := range wireNode.Data.UploadedFiles {
			node.UploadedFiles = append(node.UploadedFiles, workflow.UploadedFile{
				Name:    f.Name,
				Size:    f.Size,
				Type:    f.Type,
				Content: f.Content,
			})
		}
		w.Nodes = append(w.Nodes, node)
	}

	for _, wireEdge := range r.WorkflowEdges {
		w.Edges = append(w.Edges, workflow.Edge{
			Source: wireEdge.Source,
			Target: wireEdge.Target,
		})
	}

	return w
}

// KnowledgeBaseRequest selects the active corpus.
type KnowledgeBaseRequest struct {
	KnowledgeBase string `json:"knowledge_base"`
}

// DocumentUploadRequest adds one document to a corpus.
type DocumentUploadRequest struct {
	Title         string `json:"title"`
	Content       string `json:"content"`
	KnowledgeBase string `json:"knowledge_base"`
	Source        string `json:"source,omitempty"`
}
