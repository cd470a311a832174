package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/workflow"
)

const orchestratorPromptTemplate = `You are a Tool Orchestrator Agent. You have access to semantic search results from the knowledge base.

Available tools (node ids in this workflow): %s

Tool Selection Strategy: %s
Maximum Tools to Use: %d

IMPORTANT: Only use tools when they are ABSOLUTELY necessary. Default to using NO tools if the available context already answers the question.

Decision criteria:
- semantic_search nodes: use when the question needs knowledge-base information.
- image_generator nodes: ONLY when the user explicitly asks for an image, diagram, or visual.

If no tools are needed, set selected_tools to [] (empty array).

Output a JSON object with:
{
  "selected_tools": ["<node id>", ...],
  "image_prompt": "detailed prompt for image generation" (only if an image_generator node is selected),
  "image_type": "diagram" | "photo" | "artistic" | "cartoon" | "illustration" (only if an image_generator node is selected),
  "reasoning": "brief explanation of why tools were chosen or why none were needed"
}`

// orchestratorDecision is the JSON shape the orchestrator model must return.
type orchestratorDecision struct {
	SelectedTools []string `json:"selected_tools"`
	ImagePrompt   string   `json:"image_prompt"`
	ImageType     string   `json:"image_type"`
	Reasoning     string   `json:"reasoning"`
}

// Orchestrator inspects the available tool nodes and publishes selected_tools,
// pruning the branches the engine should not run.
type Orchestrator struct {
	gateway Gateway
	logger  *zap.Logger
}

// NewOrchestrator creates the orchestrator handler.
func NewOrchestrator(gateway Gateway, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		gateway: gateway,
		logger:  logger.With(zap.String("agent", "orchestrator")),
	}
}

// Execute implements workflow.Handler.
func (a *Orchestrator) Execute(ctx context.Context, req workflow.Request) (*workflow.Result, error) {
	strategy := settingString(req.Settings, "toolSelectionStrategy", "balanced")
	maxTools := settingInt(req.Settings, "maxTools", 3)

	available := contextStrings(req.Context, workflow.KeyAvailableTools)
	toolsList := "none"
	if len(available) > 0 {
		toolsList = strings.Join(available, ", ")
	}

	system := fmt.Sprintf(orchestratorPromptTemplate, toolsList, strategy, maxTools)

	contextText := numberedSnippets(contextList(req.Context, workflow.KeySemanticResults), 3, 200)
	user := fmt.Sprintf(`User Question: %s

Semantic Search Results (from knowledge base):
%s

Analyze:
1. Does the available context provide sufficient information to answer the question?
2. Does the question require CURRENT/REAL-TIME information?
3. Does the user explicitly request an image or visual?

Decide which tools to execute (if any) and provide instructions.`, req.UserMessage, contextText)

	response, err := chat(ctx, a.gateway, req.ModelClass, system, user, 0.3, 300)
	if err != nil {
		return nil, err
	}

	var decision orchestratorDecision
	if parseErr := parseJSONObject(response, &decision); parseErr != nil {
		// Conservative fallback: select no tools.
		a.logger.Warn("orchestrator response unparseable, selecting no tools", zap.Error(parseErr))
		decision = orchestratorDecision{
			SelectedTools: []string{},
			Reasoning:     "Failed to parse response, defaulting to no additional tools",
		}
	}
	if decision.SelectedTools == nil {
		decision.SelectedTools = []string{}
	}

	// Keep only ids that actually exist in the workflow; model hallucinations
	// must not poison the exclusion policy.
	allowed := make(map[string]bool, len(available))
	for _, id := range available {
		allowed[id] = true
	}
	selected := make([]string, 0, len(decision.SelectedTools))
	for _, id := range decision.SelectedTools {
		if allowed[id] {
			selected = append(selected, id)
		}
	}

	content := "Decided to use: no additional tools"
	if len(selected) > 0 {
		content = "Decided to use: " + strings.Join(selected, ", ")
	}

	imagePrompt := decision.ImagePrompt
	if imagePrompt == "" {
		imagePrompt = req.UserMessage
	}
	imageType := decision.ImageType
	if imageType == "" {
		imageType = "photo"
	}

	return &workflow.Result{
		Action:  "orchestrate",
		Content: content,
		Metadata: map[string]any{
			"selected_tools": selected,
			"reasoning":      decision.Reasoning,
			"strategy":       strategy,
			"max_tools":      maxTools,
		},
		ContextUpdates: map[string]any{
			workflow.KeySelectedTools: selected,
			workflow.KeyOrchestratorResult: map[string]any{
				"selected_tools": selected,
				"image_prompt":   imagePrompt,
				"image_type":     imageType,
				"reasoning":      decision.Reasoning,
			},
		},
	}, nil
}
