package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/workflow"
)

const samplerPromptTemplate = `Generate %d DIFFERENT candidate answers that explore different aspects and details of the prompt.

Each candidate should:
- Give me the %d most probable answers to the prompt.
- Be comprehensive and detailed (4-6 sentences minimum)
- Include specific facts, numbers, and details from the context
- Cover different relevant information from the provided documents
- Be well-structured and informative

Number each candidate as [1], [2], [3], etc.
Ground ALL information in the provided context.
Each candidate should be substantial enough to stand alone as a helpful answer.`

// Sampler generates diverse candidate answers for the synthesis stage.
type Sampler struct {
	gateway Gateway
	logger  *zap.Logger
}

// NewSampler creates the sampler handler.
func NewSampler(gateway Gateway, logger *zap.Logger) *Sampler {
	return &Sampler{
		gateway: gateway,
		logger:  logger.With(zap.String("agent", "sampler")),
	}
}

// Execute implements workflow.Handler.
func (a *Sampler) Execute(ctx context.Context, req workflow.Request) (*workflow.Result, error) {
	numResponses := settingInt(req.Settings, "numResponses", 5)

	snippets := contextStrings(req.Context, workflow.KeyContextSnippets)

	// Without real document context diversity adds nothing; generate fewer.
	hasContext := false
	for _, s := range snippets {
		if !strings.HasPrefix(s, "[IMAGE]") {
			hasContext = true
			break
		}
	}
	if !hasContext {
		numResponses = 2
	}

	system := fmt.Sprintf(samplerPromptTemplate, numResponses, numResponses)

	snippetText := "No context available"
	if len(snippets) > 0 {
		snippetText = strings.Join(snippets, "\n- ")
	}
	user := fmt.Sprintf("Question: %s\n\nContext:\n- %s", req.UserMessage, snippetText)

	response, err := chat(ctx, a.gateway, req.ModelClass, system, user, 0.7, 1200)
	if err != nil {
		return nil, err
	}

	candidates := parseCandidates(response, numResponses)

	previews := make([]string, len(candidates))
	for i, c := range candidates {
		if len(c) > 100 {
			previews[i] = c[:100] + "..."
		} else {
			previews[i] = c
		}
	}

	return &workflow.Result{
		Action:  "sample",
		Content: fmt.Sprintf("Generated %d candidates", len(candidates)),
		Metadata: map[string]any{
			"num_candidates":     len(candidates),
			"candidates_preview": previews,
		},
		ContextUpdates: map[string]any{
			workflow.KeyCandidates: candidates,
		},
	}, nil
}

// parseCandidates splits a numbered response into individual candidates. An
// unnumbered response is kept whole as a single candidate.
func parseCandidates(raw string, expected int) []string {
	var candidates []string
	var current []string

	flush := func() {
		if len(current) > 0 {
			joined := strings.TrimSpace(strings.Join(current, " "))
			if joined != "" {
				candidates = append(candidates, joined)
			}
			current = nil
		}
	}

	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		trimmed := strings.TrimSpace(line)
		matched := false
		for i := 1; i <= expected+1; i++ {
			for _, marker := range []string{fmt.Sprintf("[%d]", i), fmt.Sprintf("%d.", i), fmt.Sprintf("%d)", i)} {
				if strings.HasPrefix(trimmed, marker) {
					flush()
					current = []string{strings.TrimSpace(strings.TrimPrefix(trimmed, marker))}
					matched = true
					break
				}
			}
			if matched {
				break
			}
		}
		if !matched && len(current) > 0 {
			current = append(current, trimmed)
		}
	}
	flush()

	if len(candidates) == 0 {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			return []string{trimmed}
		}
		return nil
	}
	if len(candidates) > expected {
		candidates = candidates[:expected]
	}
	return candidates
}
