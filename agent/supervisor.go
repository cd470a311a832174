package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/llm"
	"github.com/BaSui01/graphflow/workflow"
)

const supervisorPromptTemplate = `You are a Supervisor Agent that analyzes queries and plans workflow execution.

WORKFLOW STRUCTURE (nodes in this workflow):
%s

Planning style: %s | Optimization: %s
%s
YOUR JOB - Analyze the query and provide guidance for downstream nodes:

1. UNDERSTAND THE QUERY: What is the user asking for?
2. IDENTIFY THE GOAL: Based on the workflow nodes, what's the end goal?
   - If IMAGE_GENERATOR is present → User may want a visual/diagram
   - If SEMANTIC_SEARCH is present → Need to find relevant information from knowledge base
   - If SYNTHESIS is present → Need to generate a well-crafted text response
   - If TRANSFORMER + SPREADSHEET are present → Extract data into structured format
3. PROVIDE GUIDANCE: Give specific instructions for the downstream agents

OUTPUT FORMAT:
QUERY ANALYSIS: [What the user wants]
WORKFLOW PATH: [Which nodes should be activated based on the query]
GUIDANCE: [Specific instructions for downstream agents]

Be concise and focused on guiding the workflow execution.`

const supervisorDocumentPreamble = `IMPORTANT: A document has been uploaded. You MUST:
1. Read the ENTIRE document content below
2. Identify what type of document this is
3. List ALL the key data points, entities, and structures you find
4. Provide SPECIFIC extraction instructions for the transformer

`

// Supervisor analyzes the query against the workflow shape and publishes an
// execution plan for downstream agents. With autoRAG enabled it retrieves
// knowledge-base context before planning.
type Supervisor struct {
	gateway   Gateway
	retriever SearchBackend
	logger    *zap.Logger
}

// NewSupervisor creates the supervisor handler. retriever may be nil when no
// corpus is configured; autoRAG then degrades to plain planning.
func NewSupervisor(gateway Gateway, retriever SearchBackend, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		gateway:   gateway,
		retriever: retriever,
		logger:    logger.With(zap.String("agent", "supervisor")),
	}
}

// Execute implements workflow.Handler.
func (a *Supervisor) Execute(ctx context.Context, req workflow.Request) (*workflow.Result, error) {
	planningStyle := settingString(req.Settings, "planningStyle", "optimized")
	optimization := settingString(req.Settings, "optimizationLevel", "basic")
	extraPrompt := settingString(req.Settings, "supervisorPrompt", "")
	autoRAG := settingBool(req.Settings, "autoRAG", false)

	updates := map[string]any{}
	metadata := map[string]any{
		"planning_style":     planningStyle,
		"optimization_level": optimization,
		"auto_rag":           autoRAG,
	}

	userMessage := req.UserMessage
	if autoRAG && a.retriever != nil {
		hits, err := a.retriever.Retrieve(ctx, "", req.UserMessage, 5, true, 15)
		if err != nil {
			a.logger.Warn("auto-RAG search failed", zap.Error(err))
		} else if len(hits) > 0 {
			var snippets []string
			var results []any
			for _, hit := range hits {
				snippet := hit.Snippet
				if len(snippet) > 1000 {
					snippet = snippet[:1000]
				}
				snippets = append(snippets, fmt.Sprintf("[%s] (relevance: %.2f)\n%s", hit.Title, hit.Score, snippet))
				results = append(results, map[string]any{
					"title":   hit.Title,
					"snippet": hit.Snippet,
					"score":   hit.Score,
					"source":  hit.Source,
				})
			}
			userMessage += "\n\n---\nRELEVANT KNOWLEDGE BASE CONTEXT:\n" + strings.Join(snippets, "\n\n")
			updates[workflow.KeySemanticResults] = results
			updates[workflow.KeyContextSnippets] = snippets
			metadata["auto_rag_results"] = len(hits)
		}
	}

	nodes := contextStrings(req.Context, workflow.KeyGraphNodes)
	availableNodes := "- (no specific nodes detected)"
	if len(nodes) > 0 {
		availableNodes = "- " + strings.Join(nodes, "\n- ")
	}

	instructions := ""
	if extraPrompt != "" {
		instructions = "\nAdditional instructions from user:\n" + extraPrompt + "\n"
	}

	system := fmt.Sprintf(supervisorPromptTemplate, availableNodes, planningStyle, optimization, instructions)

	// Uploaded documents get the capable model and a document-analysis
	// preamble; plain queries stay on the small tier.
	class := req.ModelClass
	maxTokens := 600
	if uploaded := contextString(req.Context, workflow.KeyUploadedContent); uploaded != "" {
		class = llm.ModelLarge
		maxTokens = 1500
		userMessage = supervisorDocumentPreamble + userMessage + "\n\nDOCUMENT CONTENT:\n" + uploaded
		metadata["analyzed_document"] = true
	}

	plan, err := chat(ctx, a.gateway, class, system, userMessage, 0.2, maxTokens)
	if err != nil {
		return nil, err
	}
	plan = strings.TrimSpace(plan)

	updates[workflow.KeySupervisorPlan] = plan
	updates[workflow.KeySupervisorGuidance] = plan
	metadata["model"] = a.gateway.Model(class)

	return &workflow.Result{
		Action:         "analyze_and_plan",
		Content:        plan,
		Metadata:       metadata,
		ContextUpdates: updates,
	}, nil
}
