package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/workflow"
)

const synthesisPromptTemplate = `Synthesize a clear, informative answer from the available context, candidates, and tool outputs.

%s

INSTRUCTIONS:
- Create a clear, well-structured answer that directly addresses the question
- Use information from the candidates and sources - focus on the most relevant information
- Maximum words: %d
- Include key facts, numbers, and details that directly answer the question
- Be concise but complete - avoid unnecessary elaboration
- Structure your answer with CLEAR, DISTINCT PARAGRAPHS
- IMPORTANT: Cite sources using [1], [2], [3] notation inline in your response
- Place source citations immediately after the relevant information
- If an image was generated, mention "See the image/diagram below"
- Focus on answering the question directly

%s

Your answer should clearly and directly address the user's question.`

const synthesisImageOnlyPrompt = `You are responding to an image generation request.

%s

Write a brief response (1-2 sentences) acknowledging the image was created.
Reference what was generated. Example: "I've created a diagram showing [description]. See it below."
Do NOT make up details not in the image prompt.`

// Synthesis combines snippets, candidates, and tool outputs into the final
// answer.
type Synthesis struct {
	gateway Gateway
	logger  *zap.Logger
}

// NewSynthesis creates the synthesis handler.
func NewSynthesis(gateway Gateway, logger *zap.Logger) *Synthesis {
	return &Synthesis{
		gateway: gateway,
		logger:  logger.With(zap.String("agent", "synthesis")),
	}
}

// Execute implements workflow.Handler.
func (a *Synthesis) Execute(ctx context.Context, req workflow.Request) (*workflow.Result, error) {
	maxWords := settingInt(req.Settings, "maxWords", 500)

	candidates := contextStrings(req.Context, workflow.KeyCandidates)
	snippets := contextStrings(req.Context, workflow.KeyContextSnippets)
	docs := contextList(req.Context, workflow.KeyDocs)

	toolOutputs, _ := req.Context[workflow.KeyToolOutputs].(map[string]any)
	images := contextList(toolOutputs, "images")
	calculations := contextList(toolOutputs, "calculations")
	webResults := contextList(toolOutputs, "web_results")

	var toolContext []string
	if len(images) > 0 {
		if img, ok := images[0].(map[string]any); ok {
			prompt, _ := img["prompt"].(string)
			toolContext = append(toolContext,
				fmt.Sprintf("IMAGE GENERATED: '%s' - The image will be displayed below your response.", prompt))
		}
	}
	for _, raw := range calculations {
		if calc, ok := raw.(map[string]any); ok {
			if success, _ := calc["success"].(bool); success {
				toolContext = append(toolContext, fmt.Sprintf("CALCULATION: %v = %v", calc["expression"], calc["result"]))
			} else {
				toolContext = append(toolContext, fmt.Sprintf("CALCULATION ERROR: %v", calc["error"]))
			}
		}
	}
	if len(webResults) > 0 {
		toolContext = append(toolContext, fmt.Sprintf("WEB SEARCH: Found %d results", len(webResults)))
	}
	toolContextText := strings.Join(toolContext, "\n")

	var system string
	if len(images) > 0 && len(docs) == 0 && len(webResults) == 0 {
		system = fmt.Sprintf(synthesisImageOnlyPrompt, toolContextText)
	} else {
		sourceList := ""
		if len(docs) > 0 {
			var b strings.Builder
			b.WriteString("\n\nAvailable Sources (use [1], [2], etc. to cite):\n")
			for i, raw := range docs {
				title := "Unknown"
				if d, ok := raw.(map[string]any); ok {
					if s, ok := d["title"].(string); ok {
						title = s
					}
				}
				fmt.Fprintf(&b, "[%d] %s\n", i+1, title)
			}
			sourceList = b.String()
		}
		system = fmt.Sprintf(synthesisPromptTemplate, toolContextText, maxWords, sourceList)
	}

	snippetText := "No document context"
	if len(snippets) > 0 {
		var parts []string
		for i, snippet := range snippets {
			parts = append(parts, fmt.Sprintf("[Source %d]\n%s", i+1, snippet))
		}
		snippetText = strings.Join(parts, "\n\n")
	}

	candidatesText := "No candidates"
	if len(candidates) > 0 {
		var parts []string
		for i, c := range candidates {
			parts = append(parts, fmt.Sprintf("Candidate %d: %s", i+1, c))
		}
		candidatesText = strings.Join(parts, "\n\n")
	}

	user := fmt.Sprintf(`Question: %s

Retrieved Documents and Context:
%s

Candidate Answers (synthesize the best parts):
%s

Create a clear, concise answer that combines the best insights from the sources.`,
		req.UserMessage, snippetText, candidatesText)

	maxTokens := maxWords * 2
	if maxTokens < 800 {
		maxTokens = 800
	}

	answer, err := chat(ctx, a.gateway, req.ModelClass, system, user, 0.3, maxTokens)
	if err != nil {
		return nil, err
	}
	answer = strings.TrimSpace(answer)

	return &workflow.Result{
		Action:  "synthesize",
		Content: answer,
		Metadata: map[string]any{
			"max_words":      maxWords,
			"has_images":     len(images) > 0,
			"has_docs":       len(docs) > 0,
			"num_candidates": len(candidates),
		},
		ContextUpdates: map[string]any{
			workflow.KeyFinalAnswer: answer,
		},
	}, nil
}
