package agent

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/workflow"
)

const formattingPrompt = `You are an Expert Code Generator and Formatter. You create production-quality, well-structured outputs.

Based on the request, generate the appropriate format:

PRESENTATION/SLIDES: complete self-contained HTML with embedded CSS, slide navigation, and transitions.
HTML DOCUMENT: complete HTML5 document with embedded CSS and clean semantic markup.
REACT/TSX COMPONENT: complete typed component exported as default.
DATA FORMATS (JSON/XML/CSV/YAML/Markdown): properly structured, valid syntax, consistent formatting.

Rules:
- Output ONLY the generated artifact, no commentary.
- Self-contained output: no external dependencies unless asked.
- Prefer the format the user asked for; fall back to clean Markdown.`

// Formatting turns upstream content into a requested output format (HTML,
// slides, JSON, Markdown, code).
type Formatting struct {
	gateway Gateway
	logger  *zap.Logger
}

// NewFormatting creates the formatting handler.
func NewFormatting(gateway Gateway, logger *zap.Logger) *Formatting {
	return &Formatting{
		gateway: gateway,
		logger:  logger.With(zap.String("agent", "formatting")),
	}
}

// Execute implements workflow.Handler.
func (a *Formatting) Execute(ctx context.Context, req workflow.Request) (*workflow.Result, error) {
	outputFormat := settingString(req.Settings, "outputFormat", "auto")

	content, source := firstNonEmpty(req,
		workflow.KeyInputContent,
		workflow.KeyFinalAnswer,
		workflow.KeyTransformedContent,
	)

	user := "Request: " + req.UserMessage
	if outputFormat != "auto" {
		user += "\nRequested output format: " + outputFormat
	}
	if content != "" {
		user += "\n\nContent to format:\n" + content
	}

	formatted, err := chat(ctx, a.gateway, req.ModelClass, formattingPrompt, user, 0.2, 4000)
	if err != nil {
		return nil, err
	}
	formatted = strings.TrimSpace(formatted)

	return &workflow.Result{
		Action:  "format",
		Content: formatted,
		Metadata: map[string]any{
			"output_format":  outputFormat,
			"content_source": source,
		},
		ContextUpdates: map[string]any{
			workflow.KeyFinalAnswer:  formatted,
			workflow.KeyInputContent: formatted,
		},
	}, nil
}
