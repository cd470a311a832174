package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/workflow"
)

const summarizationPromptTemplate = `You are a Summarization Agent. Your task is to create a concise summary of the provided content.

REQUIREMENTS:
- Maximum words: %d
- Preserve the most important information
- Extract key points and main ideas
- Maintain accuracy - don't add information not in the original
- Use clear, concise language
- Structure the summary logically

Create a focused summary that captures the essence of the content.`

// Summarization condenses upstream content to a word budget.
type Summarization struct {
	gateway Gateway
	logger  *zap.Logger
}

// NewSummarization creates the summarization handler.
func NewSummarization(gateway Gateway, logger *zap.Logger) *Summarization {
	return &Summarization{
		gateway: gateway,
		logger:  logger.With(zap.String("agent", "summarization")),
	}
}

// Execute implements workflow.Handler.
func (a *Summarization) Execute(ctx context.Context, req workflow.Request) (*workflow.Result, error) {
	maxWords := settingInt(req.Settings, "maxWords", 100)

	content, source := firstNonEmpty(req, workflow.KeyInputContent, workflow.KeyFinalAnswer)
	if content == "" {
		return &workflow.Result{
			Action:   "summarize",
			Content:  "No content available to summarize.",
			Err:      "no input content",
			Metadata: map[string]any{},
		}, nil
	}

	system := fmt.Sprintf(summarizationPromptTemplate, maxWords)
	user := fmt.Sprintf(`Original Query: %s

Content to Summarize:
%s

Create a summary in approximately %d words or less.`, req.UserMessage, content, maxWords)

	maxTokens := maxWords * 2
	if maxTokens < 200 {
		maxTokens = 200
	}

	summary, err := chat(ctx, a.gateway, req.ModelClass, system, user, 0.3, maxTokens)
	if err != nil {
		return nil, err
	}
	summary = strings.TrimSpace(summary)

	return &workflow.Result{
		Action:  "summarize",
		Content: summary,
		Metadata: map[string]any{
			"max_words":      maxWords,
			"content_source": source,
			"original_words": len(strings.Fields(content)),
			"summary_words":  len(strings.Fields(summary)),
		},
		ContextUpdates: map[string]any{
			workflow.KeySummary: summary,
			// Downstream nodes consume the summary as their input.
			workflow.KeyInputContent: summary,
		},
	}, nil
}
